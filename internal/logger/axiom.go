package logger

import (
    "context"
    "fmt"
    "os"
    "sync"
    "time"

    "github.com/axiomhq/axiom-go/axiom"
)

const (
    axiomBuffer    = 1000
    axiomBatchSize = 200
)

// axiomClient batches events and ships them to Axiom in the background.
type axiomClient struct {
    client  *axiom.Client
    dataset string
    events  chan axiom.Event
    done    chan struct{}
    wg      sync.WaitGroup
}

func newAxiomClient(apiKey, orgID, dataset string, flushEvery time.Duration) (*axiomClient, error) {
    if dataset == "" {
        dataset = "dev_pocketmod"
    }
    if flushEvery <= 0 {
        flushEvery = 5 * time.Second
    }

    opts := []axiom.Option{axiom.SetToken(apiKey)}
    if orgID != "" {
        opts = append(opts, axiom.SetOrganizationID(orgID))
    }
    client, err := axiom.NewClient(opts...)
    if err != nil {
        return nil, fmt.Errorf("axiom client: %w", err)
    }

    c := &axiomClient{
        client:  client,
        dataset: dataset,
        events:  make(chan axiom.Event, axiomBuffer),
        done:    make(chan struct{}),
    }
    c.wg.Add(1)
    go c.run(flushEvery)
    return c, nil
}

// Send queues an event; drops it when the buffer is full.
func (c *axiomClient) Send(ev axiom.Event) {
    select {
    case c.events <- ev:
    default:
    }
}

func (c *axiomClient) run(flushEvery time.Duration) {
    defer c.wg.Done()

    ticker := time.NewTicker(flushEvery)
    defer ticker.Stop()

    batch := make([]axiom.Event, 0, axiomBatchSize)
    flush := func() {
        if len(batch) == 0 {
            return
        }
        ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
        defer cancel()
        if _, err := c.client.IngestEvents(ctx, c.dataset, batch); err != nil {
            fmt.Fprintf(os.Stderr, "axiom ingest failed: %v\n", err)
        }
        batch = batch[:0]
    }

    for {
        select {
        case ev := <-c.events:
            batch = append(batch, ev)
            if len(batch) >= axiomBatchSize {
                flush()
            }
        case <-ticker.C:
            flush()
        case <-c.done:
            for {
                select {
                case ev := <-c.events:
                    batch = append(batch, ev)
                default:
                    flush()
                    return
                }
            }
        }
    }
}

// Close drains pending events and stops the background sender.
func (c *axiomClient) Close() error {
    close(c.done)
    c.wg.Wait()
    return nil
}
