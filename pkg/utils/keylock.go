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

import "sync"

// KeyLocker serializes work per key. No two phases run for the same
// resource at the same time; cross-resource parallelism is unconstrained.
type KeyLocker struct {
	mutex sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mutex sync.Mutex
	refs  int
}

// NewKeyLocker creates a new key locker.
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: map[string]*keyLock{}}
}

// Lock acquires the lock of the given key, blocking while another holder
// has it.
func (locker *KeyLocker) Lock(key string) {
	locker.mutex.Lock()
	lock, found := locker.locks[key]
	if !found {
		lock = &keyLock{}
		locker.locks[key] = lock
	}
	lock.refs++
	locker.mutex.Unlock()

	lock.mutex.Lock()
}

// Unlock releases the lock of the given key.
func (locker *KeyLocker) Unlock(key string) {
	locker.mutex.Lock()
	lock := locker.locks[key]
	lock.refs--
	if lock.refs == 0 {
		delete(locker.locks, key)
	}
	locker.mutex.Unlock()

	lock.mutex.Unlock()
}
