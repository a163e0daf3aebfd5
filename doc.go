/*
Package mysqlkit starts throwaway MySQL servers for Go integration tests.

Each server is a real mysqld unpacked from a per-platform archive
(mysql-{goos}-{goarch}.tar.gz) into its own temporary directory, bound to
localhost on an ephemeral port and provisioned with a login and one or more
databases. Closing the server kills the process and deletes the directory,
including after a failed start.

The pieces:

  - config builds the immutable ServerOptions and holds kit-level Options.
  - db supervises the mysqld process itself.
  - migration and atlas bring provisioned databases to a schema.

Example:

	func TestOrders(t *testing.T) {
		ctx := context.Background()
		opts := config.NewBuilder("orders", "billing").
			Username("testuser").
			Password("testpass").
			FromEnv().
			MustBuild()

		srv, err := mysqlkit.New(ctx, t, opts, atlas.WithAtlas())
		if err != nil {
			t.Fatalf("failed to start mysql: %v", err)
		}
		// srv.Close is registered with t.Cleanup.

		srv.RunSQLTx(ctx, t, "orders", func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "INSERT INTO orders (id) VALUES (1)")
			return err
		})
	}

Payload archives are read from testdata/mysql by default; use
config.Builder.Payload to supply an embed.FS, or MYSQLKIT_PAYLOAD_DIR to point
every package at a shared directory.
*/
package mysqlkit
