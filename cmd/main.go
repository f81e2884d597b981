package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"pmexecutor/cmd/executor"
	"pmexecutor/cmd/reconcile"
)

var Version string

func main() {
	setupLogger()

	app := cli.NewApp()
	app.Name = "pmexecutor CMD"
	app.Usage = "The pmexecutor command line interface"

	app.Commands = []cli.Command{
		executorCMD,
		reconcileCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	executorCMD = cli.Command{
		Name:        "executor",
		Usage:       "run Executor",
		Action:      executorAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the signal execution service`,
	}
	reconcileCMD = cli.Command{
		Name:        "reconcile",
		Usage:       "run one reconciliation pass",
		Action:      reconcileAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run a single reconciliation pass and exit`,
	}
)

func setupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func executorAction(_ *cli.Context) error {

	logrus.Info("Starting executor CMD")

	service := &executor.Executor{
		Log: logrus.WithField("cmd", "executor"),
	}
	if err := service.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func reconcileAction(_ *cli.Context) error {

	logrus.Info("Starting reconcile CMD")

	pass := &reconcile.Reconcile{
		Log: logrus.WithField("cmd", "reconcile"),
	}
	if err := pass.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}
