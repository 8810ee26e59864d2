// This file is part of PaV
// Copyright (c) 2022 The PaV Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package utils

import (
	"fmt"
	"regexp"

	"k8s.io/apimachinery/pkg/api/resource"
	"sigs.k8s.io/yaml"
)

var handleRegexp = regexp.MustCompile(`^[[:graph:]]+$`)

// MustGetYAML converts the given object to YAML and panics on failure.
func MustGetYAML(obj interface{}) string {
	data, err := yaml.Marshal(obj)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// ParseCapacity parses a capacity value: a positive integer byte count or a
// binary/decimal SI suffix form. The result is in bytes.
func ParseCapacity(value string) (int64, error) {
	quantity, err := resource.ParseQuantity(value)
	if err != nil {
		return 0, fmt.Errorf("invalid capacity %q; %v", value, err)
	}
	capacity := quantity.Value()
	if capacity <= 0 {
		return 0, fmt.Errorf("capacity %q must be positive", value)
	}
	return capacity, nil
}

// IsValidHandle reports whether the given string is usable as a volume
// handle.
func IsValidHandle(handle string) bool {
	return handle != "" && handleRegexp.MatchString(handle)
}

// Contains reports whether values contains value.
func Contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// IsSubset reports whether every value of sub is contained in values.
func IsSubset(values, sub []string) bool {
	for _, v := range sub {
		if !Contains(values, v) {
			return false
		}
	}
	return true
}
