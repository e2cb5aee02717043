package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// InvitationData はチーム招待メールの差し込みデータ。
type InvitationData struct {
	InviterName string
	TeamName    string
	Role        string
	// InviteLink は招待ページのURL。承諾・辞退はその下の /accept と /decline。
	InviteLink string
	// Message は招待者からの任意のメッセージ。
	Message string
}

// AddedToTeamData はチーム追加メールの差し込みデータ。
type AddedToTeamData struct {
	AdderName     string
	TeamName      string
	DashboardLink string
}

// InvitationMessage はチーム招待メールを生成する。
func InvitationMessage(to string, data InvitationData) (Message, error) {
	html, err := render("invitation.html", data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: fmt.Sprintf("You're invited to join %s", data.TeamName), HTML: html}, nil
}

// AddedToTeamMessage はチーム追加メールを生成する。
func AddedToTeamMessage(to string, data AddedToTeamData) (Message, error) {
	html, err := render("added_to_team.html", data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: fmt.Sprintf("You've been added to %s", data.TeamName), HTML: html}, nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("メールテンプレート %s の描画に失敗: %w", name, err)
	}
	return buf.String(), nil
}
