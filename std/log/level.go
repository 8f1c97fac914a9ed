package log

import (
	"errors"
	"fmt"
	"strings"
)

// Level is a logging level. Levels are spaced like slog levels, with TRACE
// below DEBUG for per-message netlink dumps and FATAL above ERROR.
type Level int

const LevelTrace Level = -8
const LevelDebug Level = -4
const LevelInfo Level = 0
const LevelWarn Level = 4
const LevelError Level = 8
const LevelFatal Level = 12

var ErrInvalidLevel = errors.New("invalid log level")

var levelNames = []struct {
	level Level
	name  string
}{
	{LevelTrace, "TRACE"},
	{LevelDebug, "DEBUG"},
	{LevelInfo, "INFO"},
	{LevelWarn, "WARN"},
	{LevelError, "ERROR"},
	{LevelFatal, "FATAL"},
}

// ParseLevel parses a level name as written in configuration files.
// Names are case-insensitive; an empty name is INFO.
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return LevelInfo, nil
	}
	for _, n := range levelNames {
		if strings.EqualFold(s, n.name) {
			return n.level, nil
		}
	}
	return LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

func (level Level) String() string {
	for _, n := range levelNames {
		if n.level == level {
			return n.name
		}
	}
	return fmt.Sprintf("LEVEL(%d)", int(level))
}

func (level Level) MarshalText() ([]byte, error) {
	return []byte(level.String()), nil
}

func (level *Level) UnmarshalText(b []byte) error {
	l, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*level = l
	return nil
}
