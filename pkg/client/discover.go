/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
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

package client

import (
	"time"

	"proccom/internal/discovery"
)

// ErrNoBroker is returned by DiscoverBroker when nothing answered.
var ErrNoBroker = discovery.ErrNoBroker

// DiscoverBroker looks for a broker announced over multicast DNS and returns
// its address, waiting up to timeout.
func DiscoverBroker(timeout time.Duration) (string, error) {
	return discovery.First(timeout)
}
