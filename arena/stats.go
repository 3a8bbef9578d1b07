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

package arena

// Stats is a snapshot of arena usage. Capacity and Used count units:
// values for Typed, bytes for Dropless.
type Stats struct {
	Chunks      int
	Capacity    int
	Used        int
	UnitSize    int
	Utilization float64
}

// Bytes returns the number of bytes reserved by all chunks.
func (s Stats) Bytes() int {
	return s.Capacity * s.UnitSize
}
