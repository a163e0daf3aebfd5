package atlas

import (
	"github.com/veiloq/mysqlkit/config"
)

// WithAtlas makes mysqlkit apply the Atlas migration directory named in
// atlas.hcl (see config.WithAtlasHCLPath) to every provisioned database. The
// migrator logs through the server's logger during Apply.
func WithAtlas() config.Option {
	return func(sts *config.Settings) {
		sts.SetMigrator(NewAtlasMigrator(sts.AtlasHCLPath(), nil))
	}
}
