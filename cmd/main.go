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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	earmark "github.com/earmark-commerce/earmark"
	"github.com/earmark-commerce/earmark/config"
	"github.com/earmark-commerce/earmark/database"
)

// Earmark represents the CLI application, encapsulating the root Cobra command.
type Earmark struct {
	cmd *cobra.Command
}

// earmarkInstance holds the runtime Earmark instance and its configuration,
// shared between subcommands.
type earmarkInstance struct {
	earmark *earmark.Earmark
	cnf     *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the Earmark instance before
// any subcommand runs.
func preRun(app *earmarkInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("earmark.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newEarmark, err := setupEarmark(cnf)
		if err != nil {
			log.Fatal(err)
		}

		app.earmark = newEarmark
		app.cnf = cnf

		return nil
	}
}

// setupEarmark connects the data source and creates an Earmark instance from
// the provided configuration.
func setupEarmark(cfg *config.Configuration) (*earmark.Earmark, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newEarmark, err := earmark.NewEarmark(db)
	if err != nil {
		return nil, fmt.Errorf("error creating earmark: %v", err)
	}
	return newEarmark, nil
}

// NewCLI creates the command-line interface for the Earmark application.
func NewCLI() *Earmark {
	var configFile string
	e := &earmarkInstance{}

	var rootCmd = &cobra.Command{
		Use:   "earmark",
		Short: "Inventory reservation and settlement coordinator",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./earmark.json", "Configuration file for earmark")

	rootCmd.PersistentPreRunE = preRun(e)

	rootCmd.AddCommand(serverCommands(e))
	rootCmd.AddCommand(workerCommands(e))

	return &Earmark{cmd: rootCmd}
}

func (w Earmark) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
