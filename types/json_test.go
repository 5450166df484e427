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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJsonObject_ValueAndScan(t *testing.T) {
	v, err := JsonObject{"theme": "dark"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"theme":"dark"}`, v)

	var obj JsonObject
	require.NoError(t, obj.Scan([]byte(`{"a":1}`)))
	assert.Equal(t, JsonObject{"a": float64(1)}, obj)
	require.NoError(t, obj.Scan(`{"b":"x"}`))
	assert.Equal(t, "x", obj["b"])
	require.NoError(t, obj.Scan(nil))
	assert.Empty(t, obj)
	assert.Error(t, obj.Scan(42))

	v, err = JsonObject(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestJsonArray_ValueAndScan(t *testing.T) {
	v, err := JsonArray{1, "two"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `[1,"two"]`, v)

	var arr JsonArray
	require.NoError(t, arr.Scan(`[true, null]`))
	assert.Equal(t, JsonArray{true, nil}, arr)
}

func TestJSONValueAndDecode(t *testing.T) {
	v, err := JSONValue(map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, v)

	v, err = JSONValue(7)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	out, err := DecodeJSON(`{"k":"v"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"k": "v"}, out)

	out, err = DecodeJSON(int64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)

	_, err = DecodeJSON("{broken")
	assert.Error(t, err)
}
