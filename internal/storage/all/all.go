// Package all registers every manifest backend with the storage factory.
// The pipeline config picks one; the binary has to carry all of them.
package all

import (
	_ "agoraetl/internal/storage/mssql"
	_ "agoraetl/internal/storage/postgres"
	_ "agoraetl/internal/storage/sqlite"
)
