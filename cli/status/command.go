package status

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/andydunstall/gossipd/server/status/client"
	"github.com/andydunstall/gossipd/server/status/config"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "inspect node status",
		Long: `Inspect node status.

Each gossipd node exposes a status API to inspect the state of the node, this
can be used to answer questions such as:
* What peers does this node know about?
* Which peers does this node consider suspect or dead?

See 'status --help' for the availale commands.

Examples:
  # Inspect the known peers in the cluster.
  gossipd status peers
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.PersistentFlags())

	c := client.NewClient(nil, nil)

	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if err := conf.Validate(); err != nil {
			fmt.Printf("config: %s\n", err.Error())
			os.Exit(1)
		}

		url, _ := url.Parse(conf.Server.URL)
		c.SetURL(url)

		tlsConfig, err := conf.Server.TLS.Load()
		if err != nil {
			fmt.Printf("config: tls: %s\n", err.Error())
			os.Exit(1)
		}
		c.SetTLSConfig(tlsConfig)
	}

	cmd.AddCommand(newPeersCommand(c))
	cmd.AddCommand(newPeerCommand(c))
	cmd.AddCommand(newLocalCommand(c))
	cmd.AddCommand(newResyncCommand(c))

	return cmd
}
