package cassieq

import "github.com/paradoxical-io/cassieq-sub001/id"

// ID is the primary identifier type for cassieq entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
