package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/samber/lo"
)

// CompletionCmd generates shell completions
type CompletionCmd struct {
	Shell string `arg:"" enum:"bash,zsh,fish" help:"Shell type (bash, zsh, fish)"`
}

// completionIndex is the command tree flattened from the kong model.
// Keys of Commands are space separated paths ("" is the root).
type completionIndex struct {
	Commands map[string][]string
	Flags    map[string][]string
	Enums    map[string][]string
}

// Run executes the completion command. The kong context keeps the scripts in
// sync with the real command model.
func (c *CompletionCmd) Run(globals *Globals, ctx *kong.Context) error {
	var model *kong.Node
	if ctx != nil && ctx.Model != nil {
		model = ctx.Model.Node
	}
	idx := buildCompletionIndex(model)

	switch c.Shell {
	case "bash":
		return writeBash(globals.Stdout, idx)
	case "zsh":
		return writeZsh(globals.Stdout, idx)
	case "fish":
		return writeFish(globals.Stdout, idx)
	default:
		return fmt.Errorf("unsupported shell: %s", c.Shell)
	}
}

func buildCompletionIndex(model *kong.Node) completionIndex {
	idx := completionIndex{
		Commands: map[string][]string{"": nil},
		Flags:    map[string][]string{},
		Enums:    map[string][]string{},
	}
	if model == nil {
		return idx
	}

	var walk func(n *kong.Node, path string)
	walk = func(n *kong.Node, path string) {
		for _, f := range n.Flags {
			if f.Hidden {
				continue
			}
			tokens := flagTokens(f)
			idx.Flags[path] = append(idx.Flags[path], tokens...)
			if enum := splitEnum(f.Enum); len(enum) > 0 {
				for _, t := range tokens {
					idx.Enums[t] = enum
				}
			}
		}
		idx.Flags[path] = uniqueSorted(idx.Flags[path])

		children := lo.Filter(n.Children, func(child *kong.Node, _ int) bool {
			return child != nil && !child.Hidden
		})
		idx.Commands[path] = uniqueSorted(lo.Map(children, func(child *kong.Node, _ int) string {
			return child.Name
		}))
		for _, child := range children {
			walk(child, strings.TrimSpace(path+" "+child.Name))
		}
	}
	walk(model, "")
	return idx
}

func flagTokens(f *kong.Flag) []string {
	tokens := []string{"--" + f.Name}
	if f.Short != 0 {
		tokens = append(tokens, "-"+string(f.Short))
	}
	return tokens
}

func splitEnum(raw string) []string {
	return lo.Compact(lo.Map(strings.Split(raw, ","), func(v string, _ int) string {
		return strings.TrimSpace(v)
	}))
}

func uniqueSorted(in []string) []string {
	out := lo.Uniq(in)
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

func writeBash(w io.Writer, idx completionIndex) error {
	var b strings.Builder
	b.WriteString("# bash completion for kbridge\n")
	b.WriteString("# eval \"$(kbridge completion bash)\"\n\n")
	b.WriteString("_kbridge() {\n")
	b.WriteString("  local cur prev path word\n")
	b.WriteString("  cur=\"${COMP_WORDS[COMP_CWORD]}\"\n")
	b.WriteString("  prev=\"${COMP_WORDS[COMP_CWORD-1]}\"\n")
	b.WriteString("  path=\"\"\n")
	b.WriteString("  for word in \"${COMP_WORDS[@]:1:COMP_CWORD-1}\"; do\n")
	b.WriteString("    case \"$word\" in -*) ;; *)\n")
	b.WriteString("      case \"${path:+$path }$word\" in\n")
	for _, p := range sortedKeys(idx.Commands) {
		if p == "" {
			continue
		}
		fmt.Fprintf(&b, "        %q) path=%q ;;\n", p, p)
	}
	b.WriteString("      esac ;;\n    esac\n  done\n\n")

	b.WriteString("  case \"$prev\" in\n")
	for _, flag := range sortedKeys(idx.Enums) {
		fmt.Fprintf(&b, "    %s) COMPREPLY=($(compgen -W %q -- \"$cur\")); return ;;\n",
			flag, strings.Join(idx.Enums[flag], " "))
	}
	b.WriteString("  esac\n\n")

	b.WriteString("  case \"$path\" in\n")
	for _, p := range sortedKeys(idx.Commands) {
		words := append(append([]string{}, idx.Commands[p]...), idx.Flags[p]...)
		fmt.Fprintf(&b, "    %q) COMPREPLY=($(compgen -W %q -- \"$cur\")) ;;\n", p, strings.Join(words, " "))
	}
	b.WriteString("  esac\n}\n\ncomplete -F _kbridge kbridge\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func writeZsh(w io.Writer, idx completionIndex) error {
	var b strings.Builder
	b.WriteString("#compdef kbridge\n")
	b.WriteString("# kbridge completion zsh > \"${fpath[1]}/_kbridge\"\n\n")
	b.WriteString("_kbridge() {\n")
	b.WriteString("  local -a words_at\n")
	b.WriteString("  local path=\"\" word\n")
	b.WriteString("  for word in ${words[2,CURRENT-1]}; do\n")
	b.WriteString("    [[ $word == -* ]] && continue\n")
	b.WriteString("    case \"${path:+$path }$word\" in\n")
	for _, p := range sortedKeys(idx.Commands) {
		if p == "" {
			continue
		}
		fmt.Fprintf(&b, "      %q) path=%q ;;\n", p, p)
	}
	b.WriteString("    esac\n  done\n\n")

	b.WriteString("  case \"${words[CURRENT-1]}\" in\n")
	for _, flag := range sortedKeys(idx.Enums) {
		fmt.Fprintf(&b, "    %s) compadd -- %s; return ;;\n", flag, strings.Join(idx.Enums[flag], " "))
	}
	b.WriteString("  esac\n\n")

	b.WriteString("  case \"$path\" in\n")
	for _, p := range sortedKeys(idx.Commands) {
		words := append(append([]string{}, idx.Commands[p]...), idx.Flags[p]...)
		fmt.Fprintf(&b, "    %q) words_at=(%s) ;;\n", p, strings.Join(words, " "))
	}
	b.WriteString("  esac\n  compadd -- $words_at\n}\n\ncompdef _kbridge kbridge\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func writeFish(w io.Writer, idx completionIndex) error {
	var b strings.Builder
	b.WriteString("# fish completion for kbridge\n")
	b.WriteString("# kbridge completion fish > ~/.config/fish/completions/kbridge.fish\n\n")
	b.WriteString("complete -c kbridge -f\n")

	top := idx.Commands[""]
	fmt.Fprintf(&b, "complete -c kbridge -n '__fish_use_subcommand' -a %q\n", strings.Join(top, " "))

	for _, p := range sortedKeys(idx.Commands) {
		cond := "true"
		if p != "" {
			parts := strings.Fields(p)
			cond = "__fish_seen_subcommand_from " + parts[len(parts)-1]
			if subs := idx.Commands[p]; len(subs) > 0 {
				fmt.Fprintf(&b, "complete -c kbridge -n '%s' -a %q\n", cond, strings.Join(subs, " "))
			}
		}
		for _, flag := range idx.Flags[p] {
			if !strings.HasPrefix(flag, "--") {
				continue
			}
			line := fmt.Sprintf("complete -c kbridge -n '%s' -l %s", cond, strings.TrimPrefix(flag, "--"))
			if enum, ok := idx.Enums[flag]; ok {
				line += fmt.Sprintf(" -x -a %q", strings.Join(enum, " "))
			}
			b.WriteString(line + "\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
