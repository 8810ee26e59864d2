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

//go:build linux
// +build linux

package mount

import "testing"

func TestDecodeMountPath(t *testing.T) {
	testCases := []struct {
		encoded  string
		expected string
	}{
		{"/var/lib/pav", "/var/lib/pav"},
		{`/mnt/with\040space`, "/mnt/with space"},
		{`/mnt/tab\011here`, "/mnt/tab\there"},
		{`/mnt/back\134slash`, `/mnt/back\slash`},
		{`/trailing\04`, `/trailing\04`},
	}

	for _, testCase := range testCases {
		if result := decodeMountPath(testCase.encoded); result != testCase.expected {
			t.Errorf("decodeMountPath(%q) = %q, expected %q", testCase.encoded, result, testCase.expected)
		}
	}
}

func TestIsUnder(t *testing.T) {
	if !isUnder("/a/b", "/a/b/c") {
		t.Error("expected /a/b/c under /a/b")
	}
	if isUnder("/a/b", "/a/b") {
		t.Error("a directory is not under itself")
	}
	if isUnder("/a/b", "/a/bc") {
		t.Error("prefix match must respect path separators")
	}
}

func TestMountPoints(t *testing.T) {
	mountPoints, err := MountPoints()
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, mountPoint := range mountPoints {
		if mountPoint == "/" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected / among mount points")
	}
}
