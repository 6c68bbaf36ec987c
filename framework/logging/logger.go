package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

var (
	logger *slog.Logger
	mutex  sync.Mutex
)

func init() {
	logger = createLogger(os.Stdout)
}

// Initialize - points the logger at a writer (usually the console plus a logfile)
func Initialize(writer io.Writer) {
	mutex.Lock()
	defer mutex.Unlock()
	logger = createLogger(writer)
}

func createLogger(writer io.Writer) *slog.Logger {
	return slog.New(tint.NewHandler(writer, &tint.Options{
		TimeFormat: time.RFC3339,
	}))
}

func getLogger() *slog.Logger {
	mutex.Lock()
	defer mutex.Unlock()
	return logger
}

// Infoln - prints a line to the log and to the console
func Infoln(msg string) {
	getLogger().Info(msg)
}

// Infof - prints a formatted message to the log and to the console
func Infof(msg string, args ...interface{}) {
	getLogger().Info(strings.TrimRight(fmt.Sprintf(msg, args...), "\n"))
}

// Errorf - prints a formatted error message to the log and to the console
func Errorf(msg string, args ...interface{}) {
	getLogger().Error(strings.TrimRight(fmt.Sprintf(msg, args...), "\n"))
}

// Fatal - prints a message to the log and to the console, and exits
func Fatal(args ...interface{}) {
	getLogger().Error(fmt.Sprint(args...))
	os.Exit(1)
}

// Panic - prints a fatal error to the log and to the console, and exits
func Panic(err error) {
	getLogger().Error("Fatal error: " + fmt.Sprint(err))
	os.Exit(1)
}
