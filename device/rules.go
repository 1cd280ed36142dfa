package device

import (
	"fmt"
	"path"

	"github.com/amp-labs/amp-session/config"
	sessionerrors "github.com/amp-labs/amp-session/errors"
)

// RuleComponentType is the component type holding endpoint rules.
const RuleComponentType = "endpoint-rule"

// Rule assigns a priority to the endpoints of matching nodes.
type Rule struct {
	// Match is a path.Match pattern tested against the node name.
	Match string
	// MediaClass, if set, must equal the node media class.
	MediaClass string
	Priority   int
}

func (r Rule) matches(name, mediaClass string) bool {
	if r.MediaClass != "" && r.MediaClass != mediaClass {
		return false
	}

	ok, err := path.Match(r.Match, name)

	return err == nil && ok
}

// RulesFromComponents extracts the endpoint rules of a component table.
func RulesFromComponents(components []config.Component) ([]Rule, error) {
	var (
		rules []Rule
		errs  sessionerrors.Collection
	)

	for _, c := range config.OfType(components, RuleComponentType) {
		values := c.Values()

		match, ok := values.String("match")
		if !ok {
			errs.Add(sessionerrors.NewConfigurationError(c.Name+".match",
				fmt.Errorf("%w: missing or not a string", sessionerrors.ErrWrongType)))

			continue
		}

		if _, err := path.Match(match, ""); err != nil {
			errs.Add(sessionerrors.NewConfigurationError(c.Name+".match", err))

			continue
		}

		priority, ok := values.Int("priority")
		if !ok {
			errs.Add(sessionerrors.NewConfigurationError(c.Name+".priority",
				fmt.Errorf("%w: missing or not an integer", sessionerrors.ErrWrongType)))

			continue
		}

		mediaClass, _ := values.String("media-class")

		rules = append(rules, Rule{Match: match, MediaClass: mediaClass, Priority: priority})
	}

	return rules, errs.GetError()
}

// priorityFor returns the priority of the last matching rule, 0 if none match.
func priorityFor(rules []Rule, name, mediaClass string) (int, bool) {
	var (
		priority int
		found    bool
	)

	for _, r := range rules {
		if r.matches(name, mediaClass) {
			priority, found = r.Priority, true
		}
	}

	return priority, found
}
