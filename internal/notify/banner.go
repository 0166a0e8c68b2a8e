package notify

import (
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/charmbracelet/lipgloss"
)

var bannerTmpl = template.Must(template.New("banner").Parse(`
{{ .Header }}
{{ range .Servers }}  {{ . }}
{{ end }}{{ if .MoreCount }}  ...and {{ .MoreCount }} more
{{ end }}{{ .Footer }}
`))

type bannerData struct {
	Header    string
	Servers   []string
	MoreCount int
	Footer    string
}

const bannerMaxServers = 3

// RenderBanner writes a login warning for the given notifications.
// Writes nothing when there are none.
func RenderBanner(notifications []*Notification, w io.Writer) {
	if len(notifications) == 0 {
		return
	}

	renderer := lipgloss.NewRenderer(w)
	yellow := renderer.NewStyle().Foreground(lipgloss.Color("3"))

	noun := "server"
	if len(notifications) != 1 {
		noun = "servers"
	}
	header := yellow.Render(fmt.Sprintf("⚠ %d %s not logged in:", len(notifications), noun))

	shown := min(len(notifications), bannerMaxServers)
	var servers []string
	for _, n := range notifications[:shown] {
		servers = append(servers, fmt.Sprintf("%-40s (cancelled %s)", n.ServerURI, n.Created.Format("15:04:05")))
	}

	footer := yellow.Render("Run 'tfvc server retry <url>' to log in again.")

	var buf strings.Builder
	_ = bannerTmpl.Execute(&buf, bannerData{
		Header:    header,
		Servers:   servers,
		MoreCount: len(notifications) - shown,
		Footer:    footer,
	})
	_, _ = io.WriteString(w, buf.String())
}
