package hparams

import (
	"fmt"
	"strings"
)

// LoggerType names an experiment logger backend.
type LoggerType string

const (
	TensorBoard LoggerType = "tensorboard"
	Comet       LoggerType = "comet"
	MLFlow      LoggerType = "mlflow"
	Neptune     LoggerType = "neptune"
	TestTube    LoggerType = "test_tube"
	Wandb       LoggerType = "wandb"
	Trains      LoggerType = "trains"
	Multiple    LoggerType = "multiple"
)

// LoggerTypes lists every accepted logger type.
var LoggerTypes = []LoggerType{TensorBoard, Comet, MLFlow, Neptune, TestTube, Wandb, Trains, Multiple}

// Ref returns a pointer to a copy of t, for HParams.LoggerType.
func (t LoggerType) Ref() *LoggerType {
	return &t
}

// Valid reports whether t is one of LoggerTypes.
func (t LoggerType) Valid() bool {
	for _, v := range LoggerTypes {
		if t == v {
			return true
		}
	}
	return false
}

func (t *LoggerType) String() string {
	if t == nil {
		return ""
	}
	return string(*t)
}

// Set accepts only the values in LoggerTypes.
//
// Compliant with the flag.Value interface.
func (t *LoggerType) Set(v string) error {
	candidate := LoggerType(v)
	if !candidate.Valid() {
		choices := make([]string, len(LoggerTypes))
		for i, c := range LoggerTypes {
			choices[i] = string(c)
		}
		return fmt.Errorf("invalid choice: %q (choose from %s)", v, strings.Join(choices, ", "))
	}
	*t = candidate
	return nil
}

// Optional is a string option that may be absent. The zero value is absent.
type Optional struct {
	value string
	set   bool
}

// Some returns a present Optional holding v.
func Some(v string) *Optional {
	return &Optional{value: v, set: true}
}

// None returns an absent Optional.
func None() *Optional {
	return &Optional{}
}

// Get returns the value and whether it is present. A nil Optional is absent.
func (o *Optional) Get() (string, bool) {
	if o == nil {
		return "", false
	}
	return o.value, o.set
}

// OrEmpty returns the value, or "" when absent.
func (o *Optional) OrEmpty() string {
	v, _ := o.Get()
	return v
}

func (o *Optional) String() string {
	if o == nil || !o.set {
		return ""
	}
	return o.value
}

// Set marks the option present. An empty string is still a present value.
//
// Compliant with the flag.Value interface.
func (o *Optional) Set(v string) error {
	o.value = v
	o.set = true
	return nil
}
