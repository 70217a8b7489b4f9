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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/earmark-commerce/earmark/config"
	redis_db "github.com/earmark-commerce/earmark/internal/redis-db"
	"github.com/earmark-commerce/earmark/model"
)

// Queue represents a queue for handling payment lifecycle and settlement tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// PaymentQueueName maps an event type to the queue its order-side task runs on.
func PaymentQueueName(conf *config.Configuration, eventType string) (string, error) {
	switch eventType {
	case model.EventPaymentSuccess:
		return conf.Queue.PaymentSuccessQueue, nil
	case model.EventPaymentFailed:
		return conf.Queue.PaymentFailedQueue, nil
	case model.EventPaymentCanceled:
		return conf.Queue.PaymentCanceledQueue, nil
	}
	return "", fmt.Errorf("unknown payment event type: %s", eventType)
}

// EnqueuePaymentEvent fans one payment lifecycle event out to both of its
// consumers: an order-side task on the per-event queue and an inventory-side
// task on the settlement queue. Task ids carry the consumer scope so a
// re-delivered webhook collapses onto the same tasks, and the database gate
// in each handler remains the final word on exactly-once processing.
func (q *Queue) EnqueuePaymentEvent(ctx context.Context, event model.PaymentEvent) error {
	ctx, span := tracer.Start(ctx, "Adding Payment Event To Redis Queue")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	queueName, err := PaymentQueueName(cfg, event.EventType)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	orderTask := asynq.NewTask(queueName, payload,
		asynq.TaskID(fmt.Sprintf("%s:%s:%s", event.OrderID, event.EventType, model.ScopeOrder)),
		asynq.Queue(queueName),
		asynq.MaxRetry(5),
	)
	info, err := q.Client.EnqueueContext(ctx, orderTask)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		log.Println(err, info)
		return err
	}

	settlementTask := asynq.NewTask(cfg.Queue.InventorySettlementQueue, payload,
		asynq.TaskID(fmt.Sprintf("%s:%s:%s", event.OrderID, event.EventType, model.ScopeInventory)),
		asynq.Queue(cfg.Queue.InventorySettlementQueue),
		asynq.MaxRetry(5),
	)
	info, err = q.Client.EnqueueContext(ctx, settlementTask)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		log.Println(err, info)
		return err
	}

	log.Printf(" [*] Successfully enqueued payment event: %s %s", event.OrderID, event.EventType)
	return nil
}
