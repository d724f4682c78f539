// Package build provides logging and version information for voltgate.
// Each package gets its own subsystem logger, so log levels can be tuned
// per subsystem at runtime.
package build

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type tunableLogger interface {
	setLevel(level logrus.Level)
	setDir(dir string) error
}

type hooks struct {
	console  *consoleLogHook
	jsonFile *jsonFileHook
}

var _ tunableLogger = &hooks{}

func (h *hooks) setDir(dir string) error {
	jsonFile, err := openFileForAppend(filepath.Join(dir, "voltgate.log.json"))
	if err != nil {
		return fmt.Errorf("could not open JSON log file: %w", err)
	}
	h.jsonFile.file = jsonFile
	return nil
}

func (h *hooks) setLevel(level logrus.Level) {
	h.console.setLevel(level)
	h.jsonFile.setLevel(level)
}

var logConfigLock sync.Mutex
var subsystemHooks = map[string]tunableLogger{}

// SetLogLevel sets the log level for a single subsystem logger.
func SetLogLevel(subsystem string, level logrus.Level) {
	logConfigLock.Lock()
	defer logConfigLock.Unlock()

	hook, ok := subsystemHooks[subsystem]
	if !ok {
		return
	}
	hook.setLevel(level)
}

// SetLogLevels sets the log level for every registered subsystem logger.
func SetLogLevels(level logrus.Level) {
	logConfigLock.Lock()
	defer logConfigLock.Unlock()

	for _, hook := range subsystemHooks {
		hook.setLevel(level)
	}
}

// AddSubLogger creates a new logger that tags all entries with the given
// subsystem name. Entries go to the console, and to a JSON file if a log
// directory has been set.
func AddSubLogger(subsystem string) *logrus.Logger {
	logConfigLock.Lock()
	defer logConfigLock.Unlock()

	logger := logrus.New()
	logger.SetOutput(ioutil.Discard) // all output happens via hooks

	jsonHook := &jsonFileHook{subsystem: subsystem}
	jsonHook.setLevel(logrus.InfoLevel)
	consoleHook := &consoleLogHook{subsystem: subsystem}
	consoleHook.setLevel(logrus.InfoLevel)
	logger.AddHook(jsonHook)
	logger.AddHook(consoleHook)

	subsystemHooks[subsystem] = &hooks{
		console:  consoleHook,
		jsonFile: jsonHook,
	}
	return logger
}

func openFileForAppend(file string) (*os.File, error) {
	return os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

// SetLogDir makes all subsystem loggers write JSON logs to the given
// directory, in addition to the console.
func SetLogDir(dir string) error {
	logConfigLock.Lock()
	defer logConfigLock.Unlock()

	for _, hook := range subsystemHooks {
		if err := hook.setDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// ToLogLevel takes in a string and converts it to a Logrus log level
func ToLogLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	case "fatal":
		return logrus.FatalLevel, nil
	case "panic":
		return logrus.FatalLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("%s is not a valid log level", s)
	}
}

// GinLoggingMiddleWare returns a middleware that logs incoming requests
// with Logrus. Paths in the blacklist get their bodies redacted, which we
// use for webhook payloads that may carry provider secrets.
func GinLoggingMiddleWare(logger *logrus.Logger, blacklist []string) gin.HandlerFunc {
	blackListMap := make(map[string]struct{})
	for _, elem := range blacklist {
		blackListMap[elem] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		withFields := logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       path,
			"ip":         c.ClientIP(),
			"user-agent": c.Request.UserAgent(),
		})

		var bodyBytes []byte
		if _, found := blackListMap[path]; !found {
			// we don't check the error here, as we later check for 0 length anyways
			bodyBytes, _ = ioutil.ReadAll(c.Request.Body)
			// restore the original buffer so it can be read later
			c.Request.Body = ioutil.NopCloser(bytes.NewBuffer(bodyBytes))
		} else {
			bodyBytes = []byte("not logged")
		}

		if c.Request.URL != nil {
			query := c.Request.URL.Query()
			if len(query) > 0 {
				withFields = withFields.WithField("query", query)
			}
		}

		if len(bodyBytes) != 0 {
			withFields = withFields.WithField("body", string(bodyBytes))
		}

		c.Next()

		withFields = withFields.WithField("status", c.Writer.Status())

		privateErrors := c.Errors.ByType(gin.ErrorTypePrivate)
		if len(privateErrors) > 0 {
			withFields = withFields.WithField("privateErrors", privateErrors)
		}

		publicErrors := c.Errors.ByType(gin.ErrorTypePublic)
		if len(publicErrors) > 0 {
			withFields = withFields.WithField("publicErrors", publicErrors)
		}

		bindingErrors := c.Errors.ByType(gin.ErrorTypeBind)
		if len(bindingErrors) > 0 {
			withFields = withFields.WithField("bindingErrors", bindingErrors)
		}

		latency := time.Since(start)
		withFields = withFields.WithField("latency", latency)

		status := c.Writer.Status()
		requestLevel := logger.Level
		if status >= 300 {
			requestLevel = logrus.ErrorLevel
		}
		withFields.Logf(requestLevel, "HTTP %s %s: %d", c.Request.Method, path, status)
	}
}

type consoleLogHook struct {
	hasLevel
	subsystem string
}

var _ logrus.Hook = &consoleLogHook{}
var consoleFormat = logrus.TextFormatter{
	TimestampFormat: "15:04:05",
	ForceColors:     true,
	FullTimestamp:   true,
}

var consoleOut io.Writer = os.Stdout

func (c *consoleLogHook) Fire(entry *logrus.Entry) error {
	if entry == nil || c.level < entry.Level {
		return nil
	}

	// prepend subsystem to log message
	copied := *entry
	copied.Message = fmt.Sprintf("%s %s", c.subsystem, entry.Message)

	formatted, err := consoleFormat.Format(&copied)
	if err != nil {
		return err
	}

	_, err = consoleOut.Write(formatted)
	return err
}

type jsonFileHook struct {
	hasLevel
	file      *os.File
	subsystem string
}

var _ logrus.Hook = &jsonFileHook{}
var jsonHookFormat = logrus.JSONFormatter{
	TimestampFormat: time.RFC3339,
}

func (j *jsonFileHook) Fire(entry *logrus.Entry) error {
	// don't write anything if file isn't set
	if j.file == nil {
		return nil
	}
	if entry == nil || j.level < entry.Level {
		return nil
	}

	// WithField doesn't copy over message and level, so we set them manually
	withSubsystem := entry.WithField("subsystem", j.subsystem)
	withSubsystem.Message = entry.Message
	withSubsystem.Level = entry.Level
	formatted, err := jsonHookFormat.Format(withSubsystem)
	if err != nil {
		return err
	}

	_, err = j.file.Write(formatted)
	return err
}

type hasLevel struct {
	level logrus.Level
}

// Levels is here to satisfy the logrus.Hook interface. Filtering happens
// inside Fire instead, so levels can be changed after registration.
func (h *hasLevel) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *hasLevel) setLevel(level logrus.Level) {
	h.level = level
}
