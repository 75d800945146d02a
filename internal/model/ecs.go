/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package model

import (
	"regexp"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// The name of an ECS attribute must contain between 1 and 128 characters and may contain
// letters, numbers, hyphens, underscores, forward slashes, or periods.
// https://docs.aws.amazon.com/AmazonECS/latest/APIReference/API_Attribute.html
var ecsAttributeKeyRE = regexp.MustCompile(`^[a-zA-Z0-9._/-]{1,128}$`)

// ECSAttributeKey is the name of a custom attribute advertised by the ECS agent.
type ECSAttributeKey string

func NewECSAttributeKey(input string) (ECSAttributeKey, error) {
	if err := matchPattern("ECS attribute key", input, ecsAttributeKeyRE); err != nil {
		return "", err
	}
	return ECSAttributeKey(input), nil
}

func (v *ECSAttributeKey) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewECSAttributeKey(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// The value of an ECS attribute must contain between 1 and 128 characters and may contain
// letters, numbers, hyphens, underscores, periods, at signs, forward slashes, back slashes,
// colons, or spaces; it cannot contain leading or trailing whitespace.
var ecsAttributeValueRE = regexp.MustCompile(
	`^[a-zA-Z0-9.@:_/\\-](([a-zA-Z0-9.@: _/\\-]{0,126})?[a-zA-Z0-9.@:_/\\-])?$`,
)

// ECSAttributeValue is the value of a custom attribute advertised by the ECS agent.
type ECSAttributeValue string

func NewECSAttributeValue(input string) (ECSAttributeValue, error) {
	if err := matchPattern("ECS attribute value", input, ecsAttributeValueRE); err != nil {
		return "", err
	}
	return ECSAttributeValue(input), nil
}

func (v *ECSAttributeValue) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewECSAttributeValue(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// ECSAgentLogLevel is the log level of the ECS agent.
type ECSAgentLogLevel string

func NewECSAgentLogLevel(input string) (ECSAgentLogLevel, error) {
	switch input {
	case "debug", "info", "warn", "error", "crit":
		return ECSAgentLogLevel(input), nil
	}
	return "", typederrors.NewInvalidInputError(
		nil, "ECS agent log level must be one of 'debug', 'info', 'warn', 'error' or "+
			"'crit', got %q", input,
	)
}

func (v *ECSAgentLogLevel) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewECSAgentLogLevel(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// ECSDurationValue is a duration string, validated the same way as the generic duration.
type ECSDurationValue = DurationValue
