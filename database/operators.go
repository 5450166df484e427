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

package database

// Op is a canonical query operator used in scope conditions.
type Op string

const (
	OpEq         Op = "eq"
	OpNe         Op = "ne"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpIn         Op = "in"
	OpNotIn      Op = "notIn"
	OpLike       Op = "like"
	OpNotLike    Op = "notLike"
	OpILike      Op = "iLike"
	OpNotILike   Op = "notILike"
	OpIs         Op = "is"
	OpNot        Op = "not"
	OpBetween    Op = "between"
	OpNotBetween Op = "notBetween"
	OpRegexp     Op = "regexp"
	OpNotRegexp  Op = "notRegexp"
	OpAnd        Op = "and"
	OpOr         Op = "or"
)

// Operators lists every canonical operator. It is what gets exposed as the
// "Op" global.
var Operators = map[string]Op{
	"eq": OpEq, "ne": OpNe, "gt": OpGt, "gte": OpGte, "lt": OpLt, "lte": OpLte,
	"in": OpIn, "notIn": OpNotIn, "like": OpLike, "notLike": OpNotLike,
	"iLike": OpILike, "notILike": OpNotILike, "is": OpIs, "not": OpNot,
	"between": OpBetween, "notBetween": OpNotBetween,
	"regexp": OpRegexp, "notRegexp": OpNotRegexp, "and": OpAnd, "or": OpOr,
}

// OperatorAliases returns the literal "$op" table installed on connections
// that enable operator aliases.
func OperatorAliases() map[string]Op {
	aliases := make(map[string]Op, len(Operators))
	for name, op := range Operators {
		aliases["$"+name] = op
	}
	return aliases
}
