package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/bolasblack/tfvc/internal/actions"
	"github.com/bolasblack/tfvc/internal/checkin"
	"github.com/bolasblack/tfvc/internal/conflict"
	"github.com/bolasblack/tfvc/internal/credentials"
	"github.com/bolasblack/tfvc/internal/ui"
)

var errNotInteractive = errors.New("a terminal is required for this prompt")

// prompter groups every question the commands may ask.
type prompter interface {
	ui.LoginDialog
	checkin.OverridePrompt
	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, title, description string) (bool, error)
	// ResolveChoice asks how to resolve one conflict.
	ResolveChoice(info conflict.Info, index, total int) (conflict.Choice, error)
	// SelectLockItems lets the user adjust the initial selection.
	SelectLockItems(ctx context.Context, title string, items []*actions.LockItem) error
}

// batchPrompter answers without a terminal: logins are cancelled, policy
// overrides declined, lock selections kept.
type batchPrompter struct {
	ui.CancelDialog
}

func (batchPrompter) ConfirmOverride(context.Context, []checkin.PolicyFailure) (string, bool, error) {
	return "", false, nil
}

func (batchPrompter) Confirm(context.Context, string, string) (bool, error) {
	return false, nil
}

func (batchPrompter) ResolveChoice(conflict.Info, int, int) (conflict.Choice, error) {
	return "", errNotInteractive
}

func (batchPrompter) SelectLockItems(context.Context, string, []*actions.LockItem) error {
	return nil
}

// huhPrompter uses charmbracelet/huh forms on the terminal.
type huhPrompter struct{}

func (p *huhPrompter) ShowLogin(ctx context.Context, req ui.LoginRequest) (ui.LoginResult, error) {
	uri := req.ServerURI
	var user, password, proxyPassword string
	storePassword := true
	if c := req.Credentials; c != nil {
		user = c.QualifiedUsername()
		password = c.Password
		storePassword = c.StorePassword
	}
	message := req.Message
	confirmedInsecure := ""

	for {
		var fields []huh.Field
		if message != "" {
			fields = append(fields, huh.NewNote().Title("Login").Description(message))
		}
		if req.AllowAddressChange || uri == "" {
			fields = append(fields, huh.NewInput().
				Title("Server URL").
				Placeholder("http://tfs:8080/tfs").
				Value(&uri).
				Validate(requireValue("server URL")))
		} else {
			fields = append(fields, huh.NewNote().Title("Server").Description(uri))
		}
		fields = append(fields,
			huh.NewInput().
				Title("User").
				Description(`DOMAIN\user for Windows authentication, or a plain user name`).
				Value(&user).
				Validate(requireValue("user")),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&password),
			huh.NewConfirm().
				Title("Save password").
				Value(&storePassword),
		)
		if req.PromptProxyPassword {
			fields = append(fields, huh.NewInput().
				Title("HTTP proxy password").
				EchoMode(huh.EchoModePassword).
				Value(&proxyPassword))
		}

		err := huh.NewForm(huh.NewGroup(fields...)).RunWithContext(ctx)
		if errors.Is(err, huh.ErrUserAborted) {
			return ui.LoginResult{}, nil
		}
		if err != nil {
			return ui.LoginResult{}, err
		}

		if isPlainHTTP(uri) && confirmedInsecure != uri {
			ok, err := p.Confirm(ctx, "Connect over plain HTTP?",
				fmt.Sprintf("%s is not encrypted. Your password will be sent in clear text.", uri))
			if err != nil {
				return ui.LoginResult{}, err
			}
			if !ok {
				message = "Use an https:// address or confirm the insecure connection"
				continue
			}
			confirmedInsecure = uri
		}

		creds := parseCredentials(user, password, storePassword)
		if req.OnOK != nil {
			closeDialog, msg := req.OnOK(ctx, uri, creds)
			if !closeDialog {
				message = msg
				continue
			}
		}
		return ui.LoginResult{OK: true, ServerURI: uri, Credentials: creds, ProxyPassword: proxyPassword}, nil
	}
}

func (p *huhPrompter) ConfirmOverride(ctx context.Context, failures []checkin.PolicyFailure) (string, bool, error) {
	lines := make([]string, len(failures))
	for i, f := range failures {
		lines[i] = "• " + f.Message
	}
	override := false
	var reason string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().Title("Checkin policies failed").Description(strings.Join(lines, "\n")),
			huh.NewConfirm().
				Title("Override policy failures?").
				Affirmative("Override").
				Negative("Cancel").
				Value(&override),
		),
		huh.NewGroup(
			huh.NewText().
				Title("Override reason").
				Value(&reason).
				Validate(requireValue("override reason")),
		).WithHideFunc(func() bool { return !override }),
	).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(reason), override, nil
}

func (p *huhPrompter) Confirm(ctx context.Context, title, description string) (bool, error) {
	ok := false
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	)).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

func (p *huhPrompter) ResolveChoice(info conflict.Info, index, total int) (conflict.Choice, error) {
	var choice conflict.Choice
	err := huh.NewSelect[conflict.Choice]().
		Title(fmt.Sprintf("How to resolve %s?", info.LocalPath())).
		Options(
			huh.NewOption("Keep local version (AcceptYours)", conflict.ChoiceYours),
			huh.NewOption("Take server version (AcceptTheirs)", conflict.ChoiceTheirs),
			huh.NewOption("Merge, keeping local content (AcceptMerge)", conflict.ChoiceMerge),
			huh.NewOption("Skip", conflict.ChoiceSkip),
		).
		Value(&choice).
		Run()
	if err != nil {
		return "", err
	}
	return choice, nil
}

func (p *huhPrompter) SelectLockItems(ctx context.Context, title string, items []*actions.LockItem) error {
	options := make([]huh.Option[int], len(items))
	for i, it := range items {
		label := it.Item.TargetItem
		if it.Item.LockOwner != "" {
			label = fmt.Sprintf("%s (%s by %s)", label, it.Item.Lock, it.Item.LockOwner)
		}
		options[i] = huh.NewOption(label, i).Selected(it.Selected)
	}
	var chosen []int
	err := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[int]().
			Title(title).
			Options(options...).
			Value(&chosen),
	)).RunWithContext(ctx)
	if err != nil {
		return err
	}
	for _, it := range items {
		it.Selected = false
	}
	for _, i := range chosen {
		items[i].Selected = true
	}
	return nil
}

// terminalMessages prints check-in errors.
type terminalMessages struct {
	w io.Writer
}

func (m terminalMessages) ShowError(_ context.Context, title, message string) {
	_, _ = fmt.Fprintf(m.w, "%s: %s\n", title, message)
}

// parseCredentials splits DOMAIN\user into NTLM credentials. A user
// without a domain gets alternate credentials.
func parseCredentials(user, password string, storePassword bool) *credentials.Credentials {
	user = strings.TrimSpace(user)
	if domain, name, ok := strings.Cut(user, `\`); ok {
		return credentials.New(name, domain, password, storePassword)
	}
	return credentials.NewAlternate(user, password, storePassword)
}

func isPlainHTTP(uri string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(uri)), "http://")
}

func requireValue(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}
