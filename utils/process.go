package utils

import (
	"os"
	"os/signal"
	"syscall"

	logger "github.com/sirupsen/logrus"
)

func WaitForCtrlC() {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	<-signalChan
}

func HandleSubroutinePanic(identifier string) {
	if err := recover(); err != nil {
		logger.WithField("routine", identifier).Errorf("uncaught panic: %v", err)
	}
}
