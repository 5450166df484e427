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

import (
	"context"

	"github.com/uptrace/bun"
)

type txKey struct{ namespace string }

// ContextWithTx binds tx to ctx under namespace. Model classes defined with
// the same namespace run their queries on tx.
func ContextWithTx(ctx context.Context, namespace string, tx bun.IDB) context.Context {
	return context.WithValue(ctx, txKey{namespace}, tx)
}

// TxFromContext returns the transaction bound under namespace.
func TxFromContext(ctx context.Context, namespace string) (bun.IDB, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{namespace}).(bun.IDB)
	return tx, ok && tx != nil
}

// RunInTx runs fn in a transaction on db and binds it to the context handed
// to fn.
func RunInTx(ctx context.Context, db bun.IDB, namespace string, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx, namespace); ok {
		return fn(ctx)
	}
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ContextWithTx(ctx, namespace, tx))
	})
}
