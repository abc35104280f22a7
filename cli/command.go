package cli

import (
	"github.com/spf13/cobra"

	"github.com/andydunstall/gossipd/cli/node"
	"github.com/andydunstall/gossipd/cli/status"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "gossipd [command] (flags)",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Long: `gossipd is a cluster membership directory.

Each node maintains a list of the peers in the cluster, including the client,
management and replication endpoints each peer advertises and whether the
peer is alive, suspect or dead. Nodes propagate the list using gossip, so
each node eventually learns about every other node.

Start a node with:

  $ gossipd node

Start another node and join the first with:

  $ gossipd node --cluster.join 10.26.104.14

You can also inspect the known peers of a node using:

  $ gossipd status peers
`,
	}

	cmd.AddCommand(node.NewCommand())
	cmd.AddCommand(status.NewCommand())

	return cmd
}

func init() {
	cobra.EnableCommandSorting = false
}
