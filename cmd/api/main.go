// Package main: api service.
//
// The api service shares its database with the reconciler service: the registry it writes is the one the
// reconciler reads on every pass, and the approval and subscription flags it maintains decide who the reconciler
// notifies. Refresh requests are channeled to the reconciler through the message broker.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"walletmon/api"
	"walletmon/lib/config"
	"walletmon/lib/msg"
	"walletmon/lib/msg/amqp"
	"walletmon/lib/store"
	"walletmon/lib/store/db"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9090")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log.Printf("Configuration:%+v", conf)

	// connect to database
	var dbConn store.DB

	if conf.DbConn != "" {
		if dbConn, err = db.New(conf.DbType, conf.DbConn); err != nil {
			panic(err)
		}

		log.Printf("Connecting to database:%+v\n", conf.DbConn)

		if err = dbConn.Init(); err != nil {
			panic(err)
		}
	}

	// assert the seed administrator so the approval flow can never lock everybody out
	if conf.SeedAdmin != "" {
		if err = dbConn.EnsureSeedAdmin(conf.SeedAdmin); err != nil {
			panic(err)
		}

		log.Printf("Seed administrator %s asserted", conf.SeedAdmin)
	}

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.Broker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(nil); err != nil {
			panic(err)
		}
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	// create api service
	a := api.New(conf.DbType, dbConn, mb)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		a.Stop()
		close(finish)
	}()

	// init RESTful API, wait for its return and log response
	log.Printf("API: %s\n", a.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
