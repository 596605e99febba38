package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Log: общий логгер приложения. До вызова Init пишет текстом в stderr на уровне Info.
var Log = logrus.New()

// Init настраивает уровень и формат логов: text в development, JSON в остальных окружениях.
func Init(level, env string) {
	Log = logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	if env == "development" {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return
	}
	Log.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{logrus.FieldKeyMsg: "message"},
	})
}

// Discard отключает вывод, используется в тестах.
func Discard() {
	Log.SetOutput(io.Discard)
}
