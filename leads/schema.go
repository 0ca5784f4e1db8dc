package leads

import (
	"fmt"

	"github.com/chandankrroy/erino-backend/core/logger"
	"github.com/chandankrroy/erino-backend/core/registry"
)

// schemaVersion is bumped whenever the DDL below changes. The applied version
// is recorded in the registry so an unchanged schema is not replayed on
// every start.
const schemaVersion = 1

// createRelations creates the leads relation and its indices. All statements
// are idempotent.
func (b *Backend) createRelations() {
	rlog := logger.Default()

	schemaRegistry := registry.New(b.db).Accessor("_schema_")
	var appliedVersion int
	timestamp, err := schemaRegistry.Read("leads", &appliedVersion)
	if err != nil {
		panic(err)
	}
	if !timestamp.IsZero() && appliedVersion == schemaVersion {
		rlog.Debugln("leads schema up to date, version", appliedVersion)
		return
	}

	schema := b.db.Schema
	createQuery := fmt.Sprintf(`CREATE table IF NOT EXISTS %s.leads
(id SERIAL PRIMARY KEY,
user_id INTEGER NOT NULL REFERENCES %s.users(id) ON DELETE CASCADE,
first_name varchar NOT NULL,
last_name varchar NOT NULL,
email varchar NOT NULL UNIQUE,
phone varchar NOT NULL DEFAULT '',
company varchar NOT NULL DEFAULT '',
city varchar NOT NULL DEFAULT '',
state varchar NOT NULL DEFAULT '',
source varchar NOT NULL DEFAULT '%s',
status varchar NOT NULL DEFAULT '%s',
score INTEGER NOT NULL DEFAULT 0,
lead_value DOUBLE PRECISION NOT NULL DEFAULT 0,
last_activity_at timestamptz,
is_qualified BOOLEAN NOT NULL DEFAULT false,
created_at timestamptz NOT NULL DEFAULT now(),
updated_at timestamptz NOT NULL DEFAULT now()
);`, schema, schema, defaultSource, defaultStatus)

	createIndicesQuery := fmt.Sprintf("CREATE index IF NOT EXISTS leads_user_id ON %s.leads(user_id);", schema)
	createIndicesQuery += fmt.Sprintf("CREATE index IF NOT EXISTS leads_user_id_status ON %s.leads(user_id,status);", schema)
	createIndicesQuery += fmt.Sprintf("CREATE index IF NOT EXISTS leads_user_id_source ON %s.leads(user_id,source);", schema)
	createIndicesQuery += fmt.Sprintf("CREATE index IF NOT EXISTS leads_user_id_created_at ON %s.leads(user_id,created_at);", schema)

	_, err = b.db.Exec(createQuery + createIndicesQuery)
	if err != nil {
		panic(err)
	}

	if err = schemaRegistry.Write("leads", schemaVersion); err != nil {
		panic(err)
	}
	rlog.Debugln("leads schema created, version", schemaVersion)
}
