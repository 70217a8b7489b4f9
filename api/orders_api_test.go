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
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	earmark "github.com/earmark-commerce/earmark"
	model2 "github.com/earmark-commerce/earmark/api/model"
	"github.com/earmark-commerce/earmark/config"
	"github.com/earmark-commerce/earmark/database/mocks"
	"github.com/earmark-commerce/earmark/internal/apierror"
	"github.com/earmark-commerce/earmark/model"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response != nil {
		err := json.NewDecoder(resp.Body).Decode(&s.Response)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *mocks.MockDataSource) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{
		Redis:      config.RedisConfig{Dns: mr.Addr()},
		DataSource: config.DataSourceConfig{Dns: "postgres://localhost"},
	})

	mockDS := new(mocks.MockDataSource)
	e, err := earmark.NewEarmark(mockDS)
	require.NoError(t, err)
	return NewAPI(e).Router(), mockDS
}

func toJSON(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(payload)
}

func TestCreateOrderAPI(t *testing.T) {
	router, mockDS := setupRouter(t)

	price := 10.00
	quantity := int64(50)
	mockDS.On("GetInventoryProducts", mock.Anything, []string{"prod_a"}).
		Return([]model.InventoryProduct{{ProductID: "prod_a", Name: "Widget", Price: &price, Quantity: &quantity}}, nil)
	mockDS.On("CreateOrder", mock.Anything, mock.AnythingOfType("*model.Order")).Return(nil)

	var response model.Order
	resp, err := SetUpTestRequest(TestRequest{
		Payload: toJSON(t, model2.CreateOrder{
			UserID:   "usr_1",
			Products: map[string]int64{"prod_a": 2},
		}),
		Response: &response,
		Method:   "POST",
		Route:    "/orders",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, earmark.StatusProcessing, response.Status)
	assert.Equal(t, 20.00, response.TotalPrice)
}

func TestCreateOrderAPI_ValidationFailures(t *testing.T) {
	router, _ := setupRouter(t)

	tests := []struct {
		name    string
		payload model2.CreateOrder
	}{
		{
			name:    "missing user",
			payload: model2.CreateOrder{Products: map[string]int64{"prod_a": 1}},
		},
		{
			name:    "missing products",
			payload: model2.CreateOrder{UserID: "usr_1"},
		},
		{
			name:    "non-positive quantity",
			payload: model2.CreateOrder{UserID: "usr_1", Products: map[string]int64{"prod_a": 0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := SetUpTestRequest(TestRequest{
				Payload: toJSON(t, tt.payload),
				Method:  "POST",
				Route:   "/orders",
				Router:  router,
			})
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
		})
	}
}

func TestCreateOrderAPI_InsufficientInventory(t *testing.T) {
	router, mockDS := setupRouter(t)

	price := 10.00
	quantity := int64(1)
	mockDS.On("GetInventoryProducts", mock.Anything, []string{"prod_a"}).
		Return([]model.InventoryProduct{{ProductID: "prod_a", Name: "Widget", Price: &price, Quantity: &quantity}}, nil)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: toJSON(t, model2.CreateOrder{
			UserID:   "usr_1",
			Products: map[string]int64{"prod_a": 5},
		}),
		Method: "POST",
		Route:  "/orders",
		Router: router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestGetOrderAPI(t *testing.T) {
	router, mockDS := setupRouter(t)

	mockDS.On("GetOrder", mock.Anything, "ord_1").
		Return(&model.Order{OrderID: "ord_1", Status: earmark.StatusCompleted}, nil)

	var response model.Order
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   "GET",
		Route:    "/orders/ord_1",
		Router:   router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, earmark.StatusCompleted, response.Status)
}

func TestGetOrderAPI_NotFound(t *testing.T) {
	router, mockDS := setupRouter(t)

	mockDS.On("GetOrder", mock.Anything, "ord_missing").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Order not found", nil))

	resp, err := SetUpTestRequest(TestRequest{
		Method: "GET",
		Route:  "/orders/ord_missing",
		Router: router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
