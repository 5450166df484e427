/*
 * Copyright 2025 tomoncle.
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

package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JsonObject maps JSON columns holding objects.
type JsonObject map[string]interface{}

// JsonArray maps JSON columns holding arrays.
type JsonArray []interface{}

// Value implements driver.Valuer for JsonObject.
func (j JsonObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return marshalJSON(j)
}

// Scan implements sql.Scanner for JsonObject.
func (j *JsonObject) Scan(value interface{}) error {
	if value == nil {
		*j = make(JsonObject)
		return nil
	}
	return scanJSON(value, j)
}

// Value implements driver.Valuer for JsonArray.
func (j JsonArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return marshalJSON(j)
}

// Scan implements sql.Scanner for JsonArray.
func (j *JsonArray) Scan(value interface{}) error {
	if value == nil {
		*j = make(JsonArray, 0)
		return nil
	}
	return scanJSON(value, j)
}

// JSONValue returns v ready to be written to a JSON column. Maps and slices
// are encoded, everything else is returned unchanged.
func JSONValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		return JsonObject(t).Value()
	case JsonObject:
		return t.Value()
	case []interface{}:
		return JsonArray(t).Value()
	case JsonArray:
		return t.Value()
	}
	return v, nil
}

// DecodeJSON decodes a JSON column value read back as bytes or text. Other
// values are returned unchanged.
func DecodeJSON(v interface{}) (interface{}, error) {
	var raw []byte
	switch t := v.(type) {
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		return v, nil
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// marshalJSON returns text so drivers without a JSON type store it as-is.
func marshalJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(value interface{}, dest interface{}) error {
	switch t := value.(type) {
	case []byte:
		return json.Unmarshal(t, dest)
	case string:
		return json.Unmarshal([]byte(t), dest)
	default:
		return fmt.Errorf("cannot scan %T into a JSON column", value)
	}
}
