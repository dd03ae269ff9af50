package main

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	coreLog    *logrus.Entry
	sipLog     *logrus.Entry
	sessionLog *logrus.Entry
	gatewayLog *logrus.Entry
	logFile    *lumberjack.Logger
)

// logLevels maps the numeric [logging] levels onto logrus. Anything past
// the end turns a logger off.
var logLevels = []logrus.Level{
	logrus.TraceLevel,
	logrus.DebugLevel,
	logrus.InfoLevel,
	logrus.WarnLevel,
	logrus.ErrorLevel,
	logrus.FatalLevel,
}

// sipDumpPrefixes start the gosip transport entries that carry a whole
// SIP message or raw packet after a newline.
var sipDumpPrefixes = []string{
	"received SIP message:",
	"sending SIP request:",
	"sending SIP response:",
	"read ",
	"write ",
}

// logOutputs is where every component logger writes.
type logOutputs struct {
	console    io.Writer
	file       io.Writer
	consoleMin logrus.Level
	fileMin    logrus.Level
}

// initLogging builds one logger per component from the [logging] section.
func initLogging(cfg *ini.File) error {
	sec := cfg.Section("logging")

	logFile = &lumberjack.Logger{
		Filename:   sec.Key("file").MustString("sipphone.log"),
		MaxSize:    sec.Key("max_size").MustInt(100), // megabytes
		MaxBackups: sec.Key("max_backups").MustInt(1),
	}
	out := logOutputs{
		console:    os.Stdout,
		file:       logFile,
		consoleMin: levelOf(sec.Key("console_min_level").MustInt(0)),
		fileMin:    levelOf(sec.Key("file_min_level").MustInt(0)),
	}

	var skipSIP func(*logrus.Entry) bool
	if !sec.Key("sip_messages").MustBool(true) {
		skipSIP = isSIPDump
	}

	coreLog = out.logger("core", levelOf(sec.Key("core").MustInt(2)), nil)
	sipLog = out.logger("sip", levelOf(sec.Key("sip").MustInt(2)), skipSIP)
	sessionLog = out.logger("session", levelOf(sec.Key("session").MustInt(2)), nil)
	gatewayLog = out.logger("gateway", levelOf(sec.Key("gateway").MustInt(2)), nil)
	return nil
}

// closeLogging flushes and closes log files.
func closeLogging() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

func levelOf(v int) logrus.Level {
	if v < 0 {
		v = 0
	}
	if v >= len(logLevels) {
		return logrus.PanicLevel
	}
	return logLevels[v]
}

// logger returns a component entry that discards its own output and
// writes through one hook per destination. skip, when set, drops entries
// before they reach any destination.
func (o logOutputs) logger(name string, level logrus.Level, skip func(*logrus.Entry) bool) *logrus.Entry {
	l := logrus.New()
	l.SetLevel(level)
	l.SetOutput(io.Discard)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	l.AddHook(&writerHook{w: o.console, levels: upTo(o.consoleMin), skip: skip})
	l.AddHook(&writerHook{w: o.file, levels: upTo(o.fileMin), skip: skip})
	return l.WithField("name", name)
}

// upTo lists min and every more severe level.
func upTo(min logrus.Level) []logrus.Level {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return levels
}

// writerHook formats entries of the given levels onto w.
type writerHook struct {
	w      io.Writer
	levels []logrus.Level
	skip   func(*logrus.Entry) bool
}

func (h *writerHook) Levels() []logrus.Level { return h.levels }

func (h *writerHook) Fire(e *logrus.Entry) error {
	if h.skip != nil && h.skip(e) {
		return nil
	}
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = io.WriteString(h.w, line)
	return err
}

// isSIPDump reports whether e is a gosip message or packet dump.
func isSIPDump(e *logrus.Entry) bool {
	if !strings.Contains(e.Message, "\n") {
		return false
	}
	for _, p := range sipDumpPrefixes {
		if strings.HasPrefix(e.Message, p) {
			return true
		}
	}
	return false
}
