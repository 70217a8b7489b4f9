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

func (a Api) RegisterProduct(c *gin.Context) {
	var newProduct model2.RegisterProduct
	if err := c.ShouldBindJSON(&newProduct); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := newProduct.ValidateRegisterProduct(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.earmark.RegisterProduct(c.Request.Context(), newProduct.ToInventoryProduct())
	if err != nil {
		a.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetProduct(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.earmark.GetProduct(c.Request.Context(), id)
	if err != nil {
		a.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAllProducts(c *gin.Context) {
	resp, err := a.earmark.ListProducts(c.Request.Context())
	if err != nil {
		a.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// AdjustQuantity applies a signed stock movement to one product.
func (a Api) AdjustQuantity(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var adjustment model2.AdjustQuantity
	if err := c.ShouldBindJSON(&adjustment); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := adjustment.ValidateAdjustQuantity(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.earmark.AdjustQuantity(c.Request.Context(), id, adjustment.Quantity)
	if err != nil {
		a.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}
