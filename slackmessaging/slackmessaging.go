// Package slackmessaging - Contains functions that interface with Slack
package slackmessaging

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	config "github.com/magmasystems/ResourceDisposalKit/configuration"
	logging "github.com/magmasystems/ResourceDisposalKit/framework/logging"
	slack "github.com/nlopes/slack"
)

// ProcessIncomingSlashCommand - reads the incoming request and create a Slash Command
func ProcessIncomingSlashCommand(r *http.Request, w http.ResponseWriter, signingSecret string) (slashCommand slack.SlashCommand, errs error) {
	// Create a SecretsVerifier
	verifier, err := slack.NewSecretsVerifier(r.Header, signingSecret)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	// Get the command body from the request and parse it into a new Slash Command
	r.Body = io.NopCloser(io.TeeReader(r.Body, &verifier))
	slashCommand, err = slack.SlashCommandParse(r)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return slashCommand, err
	}
	logging.Infof("The slash command is %s and the text is %s\n", slashCommand.Command, slashCommand.Text)

	// Verify that the request came from Slack
	if err = verifier.Ensure(); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return slashCommand, err
	}

	return slashCommand, nil
}

// WriteResponse - writes text to a ResponseWriter that Slack will receive
func WriteResponse(writer http.ResponseWriter, outputText string) {
	// Create an output message for Slack and turn it into Json
	outputPayload := &slack.Msg{Text: outputText, ResponseType: "ephemeral"}
	jsonValue, err := json.Marshal(outputPayload)

	// Was there a problem marshalling?
	if err != nil {
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}

	// Send the output back to Slack
	writer.Header().Set("Content-Type", "application/json")
	writer.Write(jsonValue)
}

// PostSlackNotification - posts a message to either a Slack Channel or to a user directly
func PostSlackNotification(slackUserName string, slackChannel string, format *SlackMessageFormat, appSettings *config.AppSettings) {
	msg := slack.WebhookMessage{
		Attachments: []slack.Attachment{*format.ToAttachment()},
		Username:    slackUserName,
		Channel:     slackChannel,
	}

	webhook := getWebhook(slackChannel, appSettings)

	err := slack.PostWebhook(webhook, &msg)
	if err != nil {
		fmt.Println(err)
	}
}

func getWebhook(slackChannel string, appSettings *config.AppSettings) string {
	var webhook string

	if strings.Trim(slackChannel, " ") == "" {
		webhook = appSettings.DMWebhook
	} else {
		webhook = appSettings.Webhook
	}

	return webhook
}
