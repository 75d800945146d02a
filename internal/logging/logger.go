/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package logging

import (
	"errors"
	"io"
	"log/slog"
	"maps"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"
)

// LoggerBuilder contains the data and logic needed to create a logger. Don't create instances of
// this directly, use the NewLogger function instead.
type LoggerBuilder struct {
	writer io.Writer
	out    io.Writer
	err    io.Writer
	level  string
	file   string
	fields map[string]any
	redact bool
}

// NewLogger creates a builder that can then be used to configure and create a logger.
func NewLogger() *LoggerBuilder {
	return &LoggerBuilder{
		redact: true,
	}
}

// SetWriter sets the writer that the logger will write to. This is optional, and if not specified
// the logger will write to the standard output stream of the process.
func (b *LoggerBuilder) SetWriter(value io.Writer) *LoggerBuilder {
	b.writer = value
	return b
}

// SetOut sets the standard output stream. This is optional and will only be used when the log
// file is 'stdout'.
func (b *LoggerBuilder) SetOut(value io.Writer) *LoggerBuilder {
	b.out = value
	return b
}

// SetErr sets the standard error output stream. This is optional and will only be used when the
// log file is 'stderr'.
func (b *LoggerBuilder) SetErr(value io.Writer) *LoggerBuilder {
	b.err = value
	return b
}

// AddField adds a field that will be added to all the log messages. The following field values
// have special meanings:
//
// - %p: Is replaced by the process identifier.
//
// Any other field value is added without change.
func (b *LoggerBuilder) AddField(name string, value any) *LoggerBuilder {
	if b.fields == nil {
		b.fields = map[string]any{}
	}
	b.fields[name] = value
	return b
}

// AddFields adds a set of fields that will be added to all the log messages. See the AddField
// method for the meanings of values.
func (b *LoggerBuilder) AddFields(values map[string]any) *LoggerBuilder {
	if b.fields == nil {
		b.fields = maps.Clone(values)
	} else {
		maps.Copy(b.fields, values)
	}
	return b
}

// SetLevel sets the log level.
func (b *LoggerBuilder) SetLevel(value string) *LoggerBuilder {
	b.level = value
	return b
}

// SetFile sets the file that the logger will write to. This is optional, and if not specified
// the logger will write to the standard output stream of the process.
func (b *LoggerBuilder) SetFile(value string) *LoggerBuilder {
	b.file = value
	return b
}

// SetRedact sets the flag that indicates if security sensitive data should be removed from the
// log. These fields are indicated by adding an exclamation mark in front of the field name. When
// redacting is enabled the value of the sensitive field will be replaced by `***`. The
// exclamation mark is always removed from the field name.
func (b *LoggerBuilder) SetRedact(value bool) *LoggerBuilder {
	b.redact = value
	return b
}

// SetFlags sets the command line flags that should be used to configure the logger. This is
// optional.
func (b *LoggerBuilder) SetFlags(flags *pflag.FlagSet) *LoggerBuilder {
	if flags != nil {
		if flags.Changed(levelFlagName) {
			value, err := flags.GetString(levelFlagName)
			if err == nil {
				b.SetLevel(value)
			}
		}
		if flags.Changed(fileFlagName) {
			value, err := flags.GetString(fileFlagName)
			if err == nil {
				b.SetFile(value)
			}
		}
		if flags.Changed(fieldFlagName) {
			values, err := flags.GetStringArray(fieldFlagName)
			if err == nil {
				b.AddFields(b.parseFieldItems(values))
			}
		}
		if flags.Changed(fieldsFlagName) {
			values, err := flags.GetStringSlice(fieldsFlagName)
			if err == nil {
				b.AddFields(b.parseFieldItems(values))
			}
		}
		if flags.Changed(redactFlagName) {
			value, err := flags.GetBool(redactFlagName)
			if err == nil {
				b.SetRedact(value)
			}
		}
	}
	return b
}

func (b *LoggerBuilder) parseFieldItems(items []string) map[string]any {
	fields := map[string]any{}
	for _, item := range items {
		name, value := b.parseFieldItem(item)
		fields[name] = value
	}
	return fields
}

func (b *LoggerBuilder) parseFieldItem(item string) (name string, value any) {
	switch item {
	case pidFieldValue:
		name = pidFieldName
		value = pidFieldValue
	default:
		equals := strings.Index(item, "=")
		if equals != -1 {
			name = item[0:equals]
			value = item[equals+1:]
		} else {
			name = item
			value = ""
		}
		name = strings.TrimSpace(name)
	}
	return
}

// Build uses the data stored in the builder to create a new logger.
func (b *LoggerBuilder) Build() (result *slog.Logger, err error) {
	// If no writer has been explicitly provided then open the log file:
	writer := b.writer
	if writer == nil {
		writer, err = b.openWriter()
		if err != nil {
			return
		}
	}

	// Map the level to a slog level:
	level := slog.LevelInfo
	if b.level != "" {
		err = level.UnmarshalText([]byte(b.level))
		if err != nil {
			err = errors.Join(errors.New("failed to parse log level"), err)
			return
		}
	}

	// Create the handler:
	var replace func([]string, slog.Attr) slog.Attr
	if b.redact {
		replace = replaceRedacted
	} else {
		replace = preserveRedacted
	}
	options := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replace,
	}
	handler := slog.NewJSONHandler(writer, options)

	// Calculate the custom fields:
	fields := b.customFields()

	// Create the logger:
	result = slog.New(handler).With(fields...)

	return
}

func (b *LoggerBuilder) openWriter() (result io.Writer, err error) {
	switch b.file {
	case "", "stdout":
		if b.out != nil {
			result = b.out
		} else {
			result = os.Stdout
		}
	case "stderr":
		if b.err != nil {
			result = b.err
		} else {
			result = os.Stderr
		}
	default:
		result, err = os.OpenFile(b.file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0660)
	}
	return
}

func (b *LoggerBuilder) customFields() []any {
	names := make([]string, 0, len(b.fields))
	for name := range b.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]any, 2*len(names))
	for i, name := range names {
		value := b.fields[name]
		if value == pidFieldValue {
			value = os.Getpid()
		}
		fields[2*i] = name
		fields[2*i+1] = value
	}
	return fields
}

// replaceRedacted replaces the values of fields whose names start with an exclamation mark with
// `***`, and removes the mark from the name.
func replaceRedacted(groups []string, attr slog.Attr) slog.Attr {
	if strings.HasPrefix(attr.Key, redactedPrefix) {
		attr.Key = attr.Key[len(redactedPrefix):]
		attr.Value = slog.StringValue(redactedValue)
	}
	return attr
}

// preserveRedacted removes the exclamation mark from field names but preserves the values.
func preserveRedacted(groups []string, attr slog.Attr) slog.Attr {
	if strings.HasPrefix(attr.Key, redactedPrefix) {
		attr.Key = attr.Key[len(redactedPrefix):]
	}
	return attr
}

// Special field values:
const (
	pidFieldName  = "pid"
	pidFieldValue = "%p"
)

const (
	redactedPrefix = "!"
	redactedValue  = "***"
)
