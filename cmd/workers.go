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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	earmark "github.com/earmark-commerce/earmark"
	"github.com/earmark-commerce/earmark/config"
	redis_db "github.com/earmark-commerce/earmark/internal/redis-db"
	"github.com/earmark-commerce/earmark/model"
)

// processOrderSettlement consumes a payment lifecycle event from one of the
// payment queues and settles the order side: the order moves to its terminal
// status exactly once.
func (e *earmarkInstance) processOrderSettlement(ctx context.Context, t *asynq.Task) error {
	var event model.PaymentEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		logrus.Error(err)
		return err
	}

	if err := e.earmark.HandleOrderSettlement(ctx, event); err != nil {
		logrus.Infof("Order settlement for %s pushed back for retry due to error: %v", event.OrderID, err)
		return err
	}

	log.Println(" [*] Order Settled", event.OrderID, event.EventType)
	return nil
}

// processInventorySettlement consumes the inventory-side task of a payment
// lifecycle event and resolves the pending reservation.
func (e *earmarkInstance) processInventorySettlement(ctx context.Context, t *asynq.Task) error {
	var event model.PaymentEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		logrus.Error(err)
		return err
	}

	if err := e.earmark.HandleInventorySettlement(ctx, event); err != nil {
		logrus.Infof("Inventory settlement for %s pushed back for retry due to error: %v", event.OrderID, err)
		return err
	}

	log.Println(" [*] Inventory Settled", event.OrderID, event.EventType)
	return nil
}

// processReclaim sweeps expired reservations. The scheduler enqueues this
// task on the reclaim queue per the configured cron spec.
func (e *earmarkInstance) processReclaim(ctx context.Context, _ *asynq.Task) error {
	reclaimed, err := e.earmark.ReclaimExpiredReservations(ctx)
	if err != nil {
		return err
	}

	if reclaimed > 0 {
		log.Println(" [*] Reclaimed Expired Reservations", reclaimed)
	}
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.PaymentSuccessQueue] = 2
	queues[cfg.Queue.PaymentFailedQueue] = 2
	queues[cfg.Queue.PaymentCanceledQueue] = 2
	queues[cfg.Queue.InventorySettlementQueue] = 2
	queues[cfg.Queue.NotificationQueue] = 3
	queues[cfg.Queue.ReclaimQueue] = 1
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(e *earmarkInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.PaymentSuccessQueue, e.processOrderSettlement)
	mux.HandleFunc(cfg.Queue.PaymentFailedQueue, e.processOrderSettlement)
	mux.HandleFunc(cfg.Queue.PaymentCanceledQueue, e.processOrderSettlement)
	mux.HandleFunc(cfg.Queue.InventorySettlementQueue, e.processInventorySettlement)
	mux.HandleFunc(cfg.Queue.NotificationQueue, earmark.ProcessWebhook)
	mux.HandleFunc(cfg.Queue.ReclaimQueue, e.processReclaim)
}

// initializeScheduler registers the periodic reclaim sweep with asynq's
// scheduler using the configured cron spec.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		nil,
	)

	task := asynq.NewTask(conf.Queue.ReclaimQueue, nil, asynq.Queue(conf.Queue.ReclaimQueue))
	if _, err := scheduler.Register(conf.Reclaimer.CronSpec, task); err != nil {
		return nil, fmt.Errorf("error registering reclaim schedule: %v", err)
	}
	return scheduler, nil
}

// workerCommands defines the "workers" command to start worker processes.
// The workers consume the payment settlement queues, the inventory
// settlement queue, webhook notifications and the periodic reclaim sweep.
func workerCommands(e *earmarkInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start earmark workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(e, mux)

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				log.Fatal(err)
			}
			go func() {
				if err := scheduler.Run(); err != nil {
					log.Fatalf("could not run scheduler: %v", err)
				}
			}()

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
