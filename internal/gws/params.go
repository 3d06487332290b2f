// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package gws

import "strconv"

// Parameter is one typed key-value pair on a Reports event. The API sends
// exactly one of value, intValue (as a decimal string), boolValue, or
// multiValue per parameter.
type Parameter struct {
	Name       string   `json:"name"`
	Value      string   `json:"value,omitempty"`
	IntValue   string   `json:"intValue,omitempty"`
	BoolValue  *bool    `json:"boolValue,omitempty"`
	MultiValue []string `json:"multiValue,omitempty"`
}

// paramList provides name-based lookup over an event's parameters.
type paramList []Parameter

func (p paramList) find(name string) (Parameter, bool) {
	for _, param := range p {
		if param.Name == name {
			return param, true
		}
	}
	return Parameter{}, false
}

// str returns the string value of a named parameter, or "" when absent.
func (p paramList) str(name string) string {
	if param, ok := p.find(name); ok {
		return param.Value
	}
	return ""
}

// boolean returns the bool value of a named parameter.
func (p paramList) boolean(name string) bool {
	if param, ok := p.find(name); ok && param.BoolValue != nil {
		return *param.BoolValue
	}
	return false
}

// integer returns the int value of a named parameter, or 0 when absent or
// unparseable.
func (p paramList) integer(name string) int64 {
	param, ok := p.find(name)
	if !ok || param.IntValue == "" {
		return 0
	}
	n, err := strconv.ParseInt(param.IntValue, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
