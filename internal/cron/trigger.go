package cron

import (
	"fmt"
	"strconv"
	"strings"
)

// Trigger is a wall-clock schedule made of second, minute and hour fields.
// Each field is "*", "*/N", a number or a comma list of numbers; an empty
// field is unspecified. Fields below the least significant specified field
// default to 0 and fields above it default to "*", so Trigger{Minute: "*/10"}
// fires at second 0 of every tenth minute.
type Trigger struct {
	Second string
	Minute string
	Hour   string
}

// EverySecond fires at every second.
func EverySecond() Trigger { return Trigger{Second: "*"} }

// EveryMinute fires at second 0 of every minute.
func EveryMinute() Trigger { return Trigger{Minute: "*"} }

// EveryNMinutes fires at second 0 of every n-th minute.
func EveryNMinutes(n int) Trigger { return Trigger{Minute: fmt.Sprintf("*/%d", n)} }

// EveryHour fires at 00:00 of every hour.
func EveryHour() Trigger { return Trigger{Hour: "*"} }

// Spec returns the six-field cron expression (with seconds) for t.
func (t Trigger) Spec() (string, error) {
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"second", t.Second, 59},
		{"minute", t.Minute, 59},
		{"hour", t.Hour, 23},
	}

	lowest := -1
	for i, f := range fields {
		if strings.TrimSpace(f.value) != "" {
			lowest = i
			break
		}
	}
	if lowest < 0 {
		return "", fmt.Errorf("trigger has no fields")
	}

	out := make([]string, len(fields))
	for i, f := range fields {
		value := strings.TrimSpace(f.value)
		switch {
		case value != "":
			if err := validateField(f.name, value, f.max); err != nil {
				return "", err
			}
			out[i] = value
		case i < lowest:
			out[i] = "0"
		default:
			out[i] = "*"
		}
	}

	return strings.Join(out, " ") + " * * *", nil
}

// String renders the trigger as its cron expression, or the error text.
func (t Trigger) String() string {
	spec, err := t.Spec()
	if err != nil {
		return "invalid(" + err.Error() + ")"
	}
	return spec
}

func validateField(name, value string, max int) error {
	if value == "*" {
		return nil
	}
	if step, ok := strings.CutPrefix(value, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 || n > max {
			return fmt.Errorf("invalid %s step %q", name, value)
		}
		return nil
	}
	for _, part := range strings.Split(value, ",") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > max {
			return fmt.Errorf("invalid %s value %q", name, value)
		}
	}
	return nil
}
