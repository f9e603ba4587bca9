package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

// EnvironmentEnv overrides the environment field on server log lines.
const EnvironmentEnv = "FAULTLINE_ENVIRONMENT"

var (
	// CLILogger writes human-oriented lines for commands like notify and retry.
	CLILogger *logging.Logger

	// ServerLogger writes JSON lines for the collector sink.
	ServerLogger *logging.Logger
)

var levelNames = map[string]string{
	"trace":   "TRACE",
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// InitCLILogger installs the CLI logger at INFO, or DEBUG when verbose.
func InitCLILogger(serviceName string, verbose bool) {
	InitCLILoggerLevel(serviceName, "", verbose)
}

// InitCLILoggerLevel installs the CLI logger. The simple profile only goes
// below INFO, so anything other than debug or trace keeps the default.
func InitCLILoggerLevel(serviceName, level string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		fatal(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}

	switch parseLogLevel(level) {
	case "DEBUG", "TRACE":
		verbose = true
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// InitServerLogger installs the structured JSON logger used by serve. A
// namespace, when given, is attached to every line.
func InitServerLogger(serviceName, logLevel string, namespace ...string) {
	fields := map[string]any{}
	if len(namespace) > 0 && namespace[0] != "" {
		fields["namespace"] = namespace[0]
	}

	logger, err := logging.New(serverLoggerConfig(serviceName, parseLogLevel(logLevel), fields))
	if err != nil {
		fatal(foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
	}
	ServerLogger = logger
}

func serverLoggerConfig(service, level string, fields map[string]any) *logging.LoggerConfig {
	env := strings.TrimSpace(os.Getenv(EnvironmentEnv))
	if env == "" {
		env = "production"
	}
	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: level,
		Service:      service,
		Environment:  env,
		StaticFields: fields,
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{{
			Type:    "console",
			Format:  "json",
			Console: &logging.ConsoleSinkConfig{Stream: "stderr", Colorize: false},
		}},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// Logger returns the server logger when one is installed, otherwise the CLI
// logger. It may be nil.
func Logger() *logging.Logger {
	if ServerLogger != nil {
		return ServerLogger
	}
	return CLILogger
}

// parseLogLevel maps a config level name to a logging severity. Unknown
// names mean INFO.
func parseLogLevel(level string) string {
	if name, ok := levelNames[strings.ToLower(strings.TrimSpace(level))]; ok {
		return name
	}
	return "INFO"
}

// fatal reports a logger setup failure on stderr and exits. No logger exists
// yet at this point.
func fatal(code foundry.ExitCode, msg string, err error) {
	line := "FATAL: " + msg
	if err != nil {
		line += ": " + err.Error()
	}
	fmt.Fprintln(os.Stderr, line)

	if info, ok := foundry.GetExitCodeInfo(code); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}
	fmt.Fprintf(os.Stderr, "Exit Code: %d\n", code)
	os.Exit(int(code))
}
