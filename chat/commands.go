package chat

// Definition describes one chat command. Builtin commands are answered
// directly on the chat sink and leave no trace in history or broadcast;
// external commands are persisted to their bucket and published on the
// command channel for observers to act on.
type Definition struct {
	Name          string
	Description   string
	Usage         string
	FollowersOnly bool
	Builtin       bool
}

// Commands is the static registry. Tokens not present here are ignored
// without feedback.
var Commands = map[string]Definition{
	"createnode": {
		Name:          "createnode",
		Description:   "spawn a node in the overlay scene",
		Usage:         "!createnode:<label>",
		FollowersOnly: true,
	},
	"followers": {
		Name:        "followers",
		Description: "reply with the current follower count",
		Usage:       "!followers",
		Builtin:     true,
	},
	"uptime": {
		Name:        "uptime",
		Description: "reply with how long the service has been up",
		Usage:       "!uptime",
		Builtin:     true,
	},
}

// ExternalCommands returns the names of all non-builtin commands, the set of
// buckets the command store keeps.
func ExternalCommands() []string {
	var names []string
	for name, def := range Commands {
		if !def.Builtin {
			names = append(names, name)
		}
	}
	return names
}
