/*
 * Copyright 2025 Carver Automation Corporation.
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

package artifacts

import "errors"

var (
	// ErrStorageUnavailable wraps any filesystem failure. The operation
	// is abandoned without partial state; callers surface it upward.
	ErrStorageUnavailable = errors.New("artifact storage unavailable")

	// ErrNoRegistration indicates a device directory with no stored
	// registration record.
	ErrNoRegistration = errors.New("no registration record stored")
)
