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

package earmark

import (
	"fmt"
	"time"

	rediscache "github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"

	"github.com/earmark-commerce/earmark/config"
	"github.com/earmark-commerce/earmark/database"
	redis_db "github.com/earmark-commerce/earmark/internal/redis-db"
	"github.com/earmark-commerce/earmark/reservation"
)

// Order lifecycle statuses. An order is created in PROCESSING and moves to
// exactly one terminal status through a settlement handler or, depending on
// configuration, the reclaimer.
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCanceled   = "CANCELED"
)

// Earmark represents the main struct for the reservation coordinator.
type Earmark struct {
	queue        *Queue
	redis        redis.UniversalClient
	datasource   database.IDataSource
	reservations *reservation.Cache
	productCache *rediscache.Cache
}

// NewEarmark initializes a new instance of Earmark with the provided database
// datasource. It fetches the configuration and initializes the Redis client,
// reservation cache and queue.
func NewEarmark(db database.IDataSource) (*Earmark, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	newEarmark := &Earmark{
		datasource:   db,
		queue:        newQueue,
		redis:        redisClient.Client(),
		reservations: reservation.NewCache(redisClient.Client()),
		productCache: rediscache.New(&rediscache.Options{
			Redis:      redisClient.Client(),
			LocalCache: rediscache.NewTinyLFU(1000, time.Minute),
		}),
	}
	return newEarmark, nil
}

// Reservations exposes the reservation cache, mainly for workers and tests.
func (e *Earmark) Reservations() *reservation.Cache {
	return e.reservations
}

func reservationTTL(configuration *config.Configuration) time.Duration {
	return time.Duration(configuration.Reservation.TTLHours) * time.Hour
}
