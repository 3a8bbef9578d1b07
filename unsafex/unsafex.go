/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package unsafex

import "unsafe"

// BinaryToString converts []byte to string without copy.
// The string must not outlive b, and b must not be modified while the string is in use.
func BinaryToString(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// StringToBinary converts string to []byte without copy.
// The returned bytes must not be modified.
func StringToBinary(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// Addr returns the address of the first byte of b, or 0 if b has no backing array.
func Addr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// BytesOf returns the memory of s as a []byte of len(s)*sizeof(E) bytes.
// Writing through the result is only sound if E holds no Go pointers.
func BytesOf[E any](s []E) []byte {
	if cap(s) == 0 {
		return []byte{}
	}
	var zero E
	sz := int(unsafe.Sizeof(zero))
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), cap(s)*sz)[:len(s)*sz]
}

// SliceOf reinterprets the first n*sizeof(E) bytes of b as a []E.
// It panics if b is too short. b must be suitably aligned for E,
// and E must not hold Go pointers.
func SliceOf[E any](b []byte, n int) []E {
	var zero E
	if n*int(unsafe.Sizeof(zero)) > len(b) {
		panic("unsafex: buffer too short")
	}
	if n == 0 {
		return []E{}
	}
	return unsafe.Slice((*E)(unsafe.Pointer(unsafe.SliceData(b))), n)
}
