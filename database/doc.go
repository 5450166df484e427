// Package database turns declarative model descriptions into bun backed
// model classes and keeps the live schema in line with them. It resolves
// datastore connections, filters discovered models, defines and wires
// classes in two passes, and migrates every owned datastore according to
// a migration strategy. Scopes, associations, hierarchies, foreign keys,
// seeding and query logging hooks are built on the same connections.
package database
