package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Everforest-derived palette, the only console theme
const (
	colorReset  = "\x1b[0m"
	colorBold   = "\x1b[1m"
	colorFg     = "\x1b[38;5;223m"
	colorTime   = "\x1b[38;5;107m"
	colorGreen  = "\x1b[38;5;108m"
	colorDeep   = "\x1b[38;5;65m"
	colorAqua   = "\x1b[38;5;109m"
	colorOrange = "\x1b[38;5;208m"
	colorYellow = "\x1b[38;5;179m"
	colorRed    = "\x1b[38;5;167m"
	colorRedBg  = "\x1b[48;5;52m"
	colorYelBg  = "\x1b[48;5;58m"
)

var bufferPool = buffer.NewPool()

// minimalEncoder implements a calm, compact console encoder.
// Format: "13:04:35  s.runner  Job finished  key=4vJ9… outcome=success duration_ms=5321"
//
// Field serialization is delegated to an embedded JSON encoder so that fields
// attached with With() are never dropped; the JSON object is then re-rendered
// as ordered key=value pairs.
type minimalEncoder struct {
	zapcore.Encoder
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{Encoder: zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		// Only fields: time, level, name and message are rendered by EncodeEntry
		LineEnding:     "\n",
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
	})}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{Encoder: enc.Encoder.Clone()}
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := bufferPool.Get()

	final.AppendString(colorTime)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	// Level: only shown when it is not INFO
	if ent.Level != zapcore.InfoLevel {
		final.AppendString("  ")
		final.AppendString(levelColorString(ent.Level))
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorComponent(ent.LoggerName))
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(colorFg)
	final.AppendString(ent.Message)
	final.AppendString(colorReset)

	raw, err := enc.Encoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		final.Free()
		return nil, err
	}
	rendered, err := renderFields(raw.Bytes())
	raw.Free()
	if err != nil {
		final.Free()
		return nil, err
	}
	if rendered != "" {
		final.AppendString("  ")
		final.AppendString(rendered)
	}

	final.AppendString("\n")
	return final, nil
}

// renderFields turns the JSON object produced by the embedded encoder into
// space separated key=value pairs, preserving field order.
func renderFields(raw []byte) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("{}")) {
		return "", nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil { // opening brace
		return "", err
	}

	var parts []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return "", err
		}
		key, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return "", err
		}
		// Stack traces of wrapped errors belong in JSON output only
		if strings.HasSuffix(key, "Verbose") {
			continue
		}
		parts = append(parts, colorField(key, formatValue(value)))
	}
	return strings.Join(parts, " "), nil
}

// formatValue unquotes plain strings and leaves numbers, bools and objects as JSON
func formatValue(value json.RawMessage) string {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s
	}
	return string(value)
}

func colorField(key, value string) string {
	switch key {
	case FieldJobID, FieldCorrelationKey, FieldMessageID:
		return fmt.Sprintf("%s=%s%s%s", key, colorAqua, value, colorReset)
	case FieldState, FieldFrom, FieldOutcome:
		return fmt.Sprintf("%s=%s%s%s", key, colorGreen, value, colorReset)
	case FieldReason, FieldError:
		return fmt.Sprintf("%s=%s%s%s", key, colorRed, value, colorReset)
	case FieldDurationMS, FieldCount:
		return fmt.Sprintf("%s=%s%s%s", key, colorOrange, value, colorReset)
	default:
		return key + "=" + value
	}
}

// colorComponent picks a stable color per component name
func colorComponent(name string) string {
	hash := 0
	for _, c := range name {
		hash += int(c)
	}
	switch hash % 3 {
	case 0:
		return colorGreen
	case 1:
		return colorDeep
	default:
		return colorOrange
	}
}

// levelColorString returns bold + colored + background for non-INFO levels
func levelColorString(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return colorDeep + "DEBUG" + colorReset
	case zapcore.WarnLevel:
		return colorBold + colorYelBg + colorYellow + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + colorRedBg + colorRed + "ERROR" + colorReset
	default:
		return colorBold + colorRedBg + colorRed + level.CapitalString() + colorReset
	}
}

// abbreviateName shortens component names: scrape.runner -> s.runner
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 && parts[0] != "" {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}
