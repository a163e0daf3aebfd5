package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/veiloq/mysqlkit/connection"
)

// errNoDatabases is the message every empty-name build fails with.
const errNoDatabases = "at least one database name is required"

var (
	validate   = newValidator()
	pluginName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Database names are spliced into CREATE DATABASE and the connection template,
	// so reject characters that would escape a quoted identifier or a path segment.
	_ = v.RegisterValidation("mysqlident", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "`/\\.\x00")
	})
	// The auth plugin is a bare word after IDENTIFIED WITH.
	_ = v.RegisterValidation("mysqlplugin", func(fl validator.FieldLevel) bool {
		return pluginName.MatchString(fl.Field().String())
	})
	return v
}

// validatedFields mirrors the builder state with exported, tagged fields.
type validatedFields struct {
	Username       string        `validate:"required,max=32"`
	DatabaseNames  []string      `validate:"required,min=1,dive,required,max=64,mysqlident"`
	StartupWait    time.Duration `validate:"gt=0"`
	ShutdownWait   time.Duration `validate:"gt=0"`
	CommandTimeout time.Duration `validate:"gt=0"`
	Template       string        `validate:"required"`
	AuthPlugin     string        `validate:"omitempty,mysqlplugin"`
}

// Builder collects server options and freezes them into a ServerOptions value.
// Setters never fail; all validation happens in Build.
type Builder struct {
	username           string
	password           string
	databaseNames      map[string]struct{}
	startupWait        time.Duration
	shutdownWait       time.Duration
	commandTimeout     time.Duration
	connectionTemplate string
	authPlugin         string
	baseDir            string
	payload            fs.FS
	output             io.Writer
	err                error
}

// NewBuilder starts a builder for the given databases. Calling Build without any
// setter yields username=root, password="", startupWait=10s, shutdownWait=10s and
// commandTimeout=30s.
func NewBuilder(databaseNames ...string) *Builder {
	b := &Builder{
		username:           DefaultUsername,
		password:           DefaultPassword,
		databaseNames:      make(map[string]struct{}, len(databaseNames)),
		startupWait:        DefaultStartupWait,
		shutdownWait:       DefaultShutdownWait,
		commandTimeout:     DefaultCommandTimeout,
		connectionTemplate: DefaultConnectionTemplate,
		authPlugin:         DefaultAuthPlugin,
		baseDir:            os.TempDir(),
		payload:            os.DirFS(DefaultPayloadDir),
	}
	for _, name := range databaseNames {
		b.databaseNames[name] = struct{}{}
	}
	return b
}

func (b *Builder) Username(username string) *Builder {
	b.username = username
	return b
}

func (b *Builder) Password(password string) *Builder {
	b.password = password
	return b
}

func (b *Builder) StartupWait(d time.Duration) *Builder {
	b.startupWait = d
	return b
}

func (b *Builder) ShutdownWait(d time.Duration) *Builder {
	b.shutdownWait = d
	return b
}

func (b *Builder) CommandTimeout(d time.Duration) *Builder {
	b.commandTimeout = d
	return b
}

// ConnectionTemplate overrides DefaultConnectionTemplate.
func (b *Builder) ConnectionTemplate(template string) *Builder {
	b.connectionTemplate = template
	return b
}

// AuthPlugin sets the plugin named in CREATE USER ... IDENTIFIED WITH. An empty
// string leaves the choice to the server.
func (b *Builder) AuthPlugin(plugin string) *Builder {
	b.authPlugin = plugin
	return b
}

// BaseDir sets the parent directory of the per-instance working directories.
func (b *Builder) BaseDir(dir string) *Builder {
	b.baseDir = dir
	return b
}

// Payload sets the file system the platform archive is read from, e.g. an
// embed.FS bundled with the tests.
func (b *Builder) Payload(fsys fs.FS) *Builder {
	b.payload = fsys
	return b
}

// PayloadDir reads platform archives from a directory on disk.
func (b *Builder) PayloadDir(dir string) *Builder {
	b.payload = os.DirFS(dir)
	return b
}

// Output sends raw mysqld output to w instead of the logger.
func (b *Builder) Output(w io.Writer) *Builder {
	b.output = w
	return b
}

// Build validates the collected options, reserves an ephemeral port and returns
// the frozen ServerOptions. Validation failures are *ConfigurationError.
//
// The port is only reserved by binding and immediately releasing it; another
// process may claim it before mysqld binds. That race is accepted.
func (b *Builder) Build() (ServerOptions, error) {
	if b.err != nil {
		return ServerOptions{}, b.err
	}
	if len(b.databaseNames) == 0 {
		return ServerOptions{}, &ConfigurationError{Field: "DatabaseNames", Msg: errNoDatabases}
	}

	names := make([]string, 0, len(b.databaseNames))
	for name := range b.databaseNames {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := validatedFields{
		Username:       b.username,
		DatabaseNames:  names,
		StartupWait:    b.startupWait,
		ShutdownWait:   b.shutdownWait,
		CommandTimeout: b.commandTimeout,
		Template:       b.connectionTemplate,
		AuthPlugin:     b.authPlugin,
	}
	if err := validate.Struct(fields); err != nil {
		return ServerOptions{}, toConfigurationError(err)
	}

	port, err := connection.GetFreePort(Host)
	if err != nil {
		return ServerOptions{}, fmt.Errorf("failed to reserve server port: %w", err)
	}

	return ServerOptions{
		username:           b.username,
		password:           b.password,
		port:               port,
		databaseNames:      names,
		startupWait:        b.startupWait,
		shutdownWait:       b.shutdownWait,
		commandTimeout:     b.commandTimeout,
		connectionTemplate: b.connectionTemplate,
		authPlugin:         b.authPlugin,
		baseDir:            b.baseDir,
		payload:            b.payload,
		output:             b.output,
	}, nil
}

// MustBuild is Build for test setup code; it panics on error.
func (b *Builder) MustBuild() ServerOptions {
	opts, err := b.Build()
	if err != nil {
		panic(err)
	}
	return opts
}

func toConfigurationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigurationError{Msg: err.Error()}
	}
	fe := verrs[0]
	field := fe.StructField()
	if i := strings.IndexByte(field, '['); i >= 0 {
		field = field[:i]
	}
	if field == "Template" {
		field = "ConnectionTemplate"
	}
	msg := fmt.Sprintf("%s is invalid (%s", field, fe.Tag())
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	msg += ")"
	if fe.Kind() == reflect.String && fe.Value() != nil {
		msg += fmt.Sprintf(": %q", fe.Value())
	}
	return &ConfigurationError{Field: field, Msg: msg}
}
