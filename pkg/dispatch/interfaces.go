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

//go:generate mockgen -destination=mock_transport.go -package=dispatch github.com/carverauto/fleetconsole/pkg/dispatch Transport

package dispatch

import "context"

// Transport delivers an event with a payload to one connection. A nil
// error means local delivery succeeded, not that the agent received or
// acted on it.
type Transport interface {
	Send(ctx context.Context, handle, event string, payload interface{}) error
}
