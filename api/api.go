package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	earmark "github.com/earmark-commerce/earmark"
	"github.com/earmark-commerce/earmark/api/middleware"
	"github.com/earmark-commerce/earmark/config"
)

type Api struct {
	earmark *earmark.Earmark
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/orders", a.CreateOrder)
	router.GET("/orders/:id", a.GetOrder)
	router.GET("/orders", a.GetAllOrders)

	router.POST("/inventory/products", a.RegisterProduct)
	router.GET("/inventory/products/:id", a.GetProduct)
	router.GET("/inventory/products", a.GetAllProducts)
	router.POST("/inventory/products/:id/adjustments", a.AdjustQuantity)

	router.POST("/payments/events", a.AcceptPaymentEvent)
	return a.router
}

func NewAPI(e *earmark.Earmark) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{earmark: e, router: r}
}
