package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	audit "github.com/magmasystems/ResourceDisposalKit/audit"
	config "github.com/magmasystems/ResourceDisposalKit/configuration"
	fr "github.com/magmasystems/ResourceDisposalKit/framework"
	logging "github.com/magmasystems/ResourceDisposalKit/framework/logging"
	janitor "github.com/magmasystems/ResourceDisposalKit/janitor"
	slackmessaging "github.com/magmasystems/ResourceDisposalKit/slackmessaging"
	"github.com/nlopes/slack"
)

var theJanitor *janitor.Janitor
var theAuditManager *audit.AuditManager
var leakCheckingTicker *time.Ticker

func main() {
	logfileName := os.Getenv("LOGFILE")
	if logfileName == "" {
		logfileName = "./resourcekit.log"
	}

	f, _ := os.Create(logfileName)
	defer f.Close()
	logging.Initialize(io.MultiWriter(os.Stdout, f))

	logging.Infoln("About to create the Janitor")

	theJanitor = janitor.CreateJanitor()
	defer theJanitor.Close()

	go func() {
		handle, err := theJanitor.AcquireDefault("")
		if err != nil {
			return
		}
		fr.Using(handle, func() {
			theJanitor.SweepAsync()
			infos := <-theJanitor.SweepCompleted
			if len(infos) > 0 {
				fmt.Println(infos[0])
			}
		})
	}()

	configMgr := new(config.ConfigManager)
	appSettings := configMgr.Config()
	logging.Infof("Got the app settings: the port is %d\n", appSettings.Port)

	// Get the signing secret from the config
	var signingSecret string
	signingSecret = appSettings.SlackSecret
	if signingSecret == "" {
		logging.Fatal("The signing secret is not in the appSettings.json file")
	}

	// Create the AuditManager
	theAuditManager = audit.CreateAuditManager(theJanitor)
	defer theAuditManager.Dispose()

	// If the garbage collector ever has to release one of our handles, the application
	// forgot to call Dispose somewhere. Tell Slack about it right away.
	theJanitor.SetLeakCallback(func(name string) {
		format := &slackmessaging.SlackMessageFormat{
			Title:   "Leaked resource",
			Text:    fmt.Sprintf("The handle %s was released by the finalizer. The application never disposed it.", name),
			Color:   "danger",
			UseTime: true,
		}
		slackmessaging.PostSlackNotification("resourcekit", "", format, appSettings)
	})

	// The HTTP request handler
	http.HandleFunc("/resources", func(w http.ResponseWriter, r *http.Request) {
		slashCommand, err := slackmessaging.ProcessIncomingSlashCommand(r, w, signingSecret)
		if err != nil {
			return
		}

		// See which slash command the message contains
		switch slashCommand.Command {
		case "/resources", "/resourcesd":
			listResources(slashCommand, w)

		case "/resource-leaks":
			if strings.ToUpper(slashCommand.Text) == "CHECK" {
				checkForLeaks(w)
			} else {
				theAuditManager.HandleLeakWatchCommand(slashCommand, w)
			}

		default:
			// Unknown command
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	leakCheckingTicker = time.NewTicker(time.Duration(appSettings.SweepInterval) * time.Minute)
	defer leakCheckingTicker.Stop()
	go func() {
		for range leakCheckingTicker.C {
			fmt.Println("Checking for leaked handles at " + time.Now().String())
			theAuditManager.CheckForLeaks(theJanitor, func(notification audit.LeakNotification) {
				fmt.Println(notification)
			})
		}
	}()

	// Get the port from the config file
	port := appSettings.Port
	if port == 0 {
		port = 5000
	}

	// Start the web server
	logging.Infof("Listening on port %d\n\n", port)
	http.ListenAndServe(":"+strconv.Itoa(port), nil)
}

func respondToSlack(text string, w http.ResponseWriter) {
	outputPayload := &slack.Msg{Text: text}
	bytes, err := json.Marshal(outputPayload)

	// Was there a problem marshalling?
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	// Send the output back to Slack
	w.Header().Set("Content-Type", "application/json")
	w.Write(bytes)
}

func listResources(slashCommand slack.SlashCommand, w http.ResponseWriter) {
	outputText := ""

	go func() {
		theJanitor.SweepAsync()
	}()

	select {
	case infos := <-theJanitor.SweepCompleted:
		for _, info := range infos {
			if info.Valid {
				outputText += fmt.Sprintf("%s (%s) open since %s\n", info.Name, info.Kind, info.AcquiredAt.Format(time.RFC3339))
			}
		}

		respondToSlack(outputText, w)

	case <-time.After(3 * time.Second):
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func checkForLeaks(w http.ResponseWriter) {
	// Get the current snapshot of the open handles
	infos := theAuditManager.GetOutstandingHandles(theJanitor)
	if infos == nil {
		respondToSlack("No leaked handles", w)
		return
	}

	// Save the snapshot to the database
	theAuditManager.SaveSnapshot(infos)

	// Check for any watched handles that stayed open too long
	notifications := theAuditManager.GetLeaks()

	// Go through all of the leaks and notify the Slack user
	outputText := ""
	for _, notification := range notifications {
		outputText += fmt.Sprintf("%s (matched on %s) has been open for %3.2f minutes, past the limit of %d minutes.\n",
			notification.Target, notification.MatchOn, notification.OpenMinutes, notification.TTLMinutes)

		// Do the notification to slack asynchronously
		go func() {
			println(outputText)
		}()
	}

	respondToSlack(outputText, w)
}
