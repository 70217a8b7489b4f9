/*
Copyright 2024 Earmark Commerce Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	model2 "github.com/earmark-commerce/earmark/api/model"
)

// AcceptPaymentEvent is the webhook the payment provider delivers lifecycle
// events to. Accepted events are queued for settlement; delivery retries of
// the same event are safe.
func (a Api) AcceptPaymentEvent(c *gin.Context) {
	var event model2.PaymentEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := event.ValidatePaymentEvent(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := a.earmark.AcceptPaymentEvent(c.Request.Context(), event.ToPaymentEvent()); err != nil {
		a.renderError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "event accepted"})
}
