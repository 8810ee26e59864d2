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
	"sync"
	"testing"
)

func TestParseCapacity(t *testing.T) {
	testCases := []struct {
		value    string
		expected int64
		wantErr  bool
	}{
		{value: "1", expected: 1},
		{value: "1073741824", expected: 1 << 30},
		{value: "1Gi", expected: 1 << 30},
		{value: "1G", expected: 1_000_000_000},
		{value: "512Mi", expected: 512 << 20},
		{value: "1k", expected: 1000},
		{value: "0", wantErr: true},
		{value: "-1Gi", wantErr: true},
		{value: "lots", wantErr: true},
		{value: "", wantErr: true},
	}

	for _, testCase := range testCases {
		capacity, err := ParseCapacity(testCase.value)
		if testCase.wantErr {
			if err == nil {
				t.Errorf("value %q: expected error, got %v", testCase.value, capacity)
			}
			continue
		}
		if err != nil {
			t.Errorf("value %q: unexpected error: %v", testCase.value, err)
			continue
		}
		if capacity != testCase.expected {
			t.Errorf("value %q: expected %v, got %v", testCase.value, testCase.expected, capacity)
		}
	}
}

func TestIsValidHandle(t *testing.T) {
	for _, handle := range []string{"vol-1", "pvc-11111111", "a/b:c.d"} {
		if !IsValidHandle(handle) {
			t.Errorf("handle %q: expected valid", handle)
		}
	}
	for _, handle := range []string{"", "with space", "with\nnewline", "with\ttab"} {
		if IsValidHandle(handle) {
			t.Errorf("handle %q: expected invalid", handle)
		}
	}
}

func TestKeyLocker(t *testing.T) {
	locker := NewKeyLocker()

	// unsynchronised except through the key locks; the race detector
	// flags any overlap of same-key critical sections
	counterA := 0
	counterB := 0
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			locker.Lock("a")
			defer locker.Unlock("a")
			counterA++
		}()
		go func() {
			defer wg.Done()
			locker.Lock("b")
			defer locker.Unlock("b")
			counterB++
		}()
	}

	wg.Wait()
	if counterA != 50 || counterB != 50 {
		t.Fatalf("unexpected counters %v/%v", counterA, counterB)
	}
}
