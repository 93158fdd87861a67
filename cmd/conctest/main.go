// Command conctest hammers a running server with concurrent registrations
// for one limited event and concurrent redemptions of one ticket, then
// checks that capacity and single use held.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) do(method, path string, body interface{}) (int, envelope, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, envelope{}, err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return 0, envelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, envelope{}, err
	}
	defer resp.Body.Close()
	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env, nil
}

type tally struct {
	mu    sync.Mutex
	codes map[string]int
	ids   []string
}

func (t *tally) add(code string, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.codes[code]++
	if id != "" {
		t.ids = append(t.ids, id)
	}
}

func fanOut(n int, fn func(i int)) time.Duration {
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fn(i)
		}(i)
	}
	wg.Wait()
	return time.Since(start)
}

func main() {
	base := flag.String("base", "http://localhost:8080", "server base URL")
	token := flag.String("token", os.Getenv("EVENTGATE_TOKEN"), "admin bearer token")
	capacity := flag.Int("capacity", 1, "event capacity")
	registrations := flag.Int("n", 50, "concurrent registrations")
	redemptions := flag.Int("m", 20, "concurrent redemptions of one ticket")
	flag.Parse()
	if *token == "" {
		log.Fatal("an admin token is required (-token or EVENTGATE_TOKEN)")
	}

	c := &client{base: *base, token: *token, http: &http.Client{Timeout: 30 * time.Second}}
	status, env, err := c.do(http.MethodPost, "/events", map[string]interface{}{
		"title":    fmt.Sprintf("Capacity-%d stress test", *capacity),
		"date":     time.Now().AddDate(0, 0, 1).Format("2006-01-02"),
		"time":     "18:00",
		"venue":    "Load lab",
		"capacity": *capacity,
	})
	if err != nil || status != http.StatusCreated {
		log.Fatalf("create event: status=%d err=%v msg=%s", status, err, env.Error)
	}
	var ev struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(env.Data, &ev)
	defer func() { _, _, _ = c.do(http.MethodDelete, "/events/"+ev.ID, nil) }()

	fmt.Println("═══════════════════════════════════════════")
	fmt.Println("  Event check-in concurrency test")
	fmt.Println("═══════════════════════════════════════════")
	fmt.Printf("Event ID : %s\nCapacity : %d\n\n", ev.ID, *capacity)

	regs := &tally{codes: map[string]int{}}
	took := fanOut(*registrations, func(i int) {
		status, env, err := c.do(http.MethodPost, "/events/"+ev.ID+"/register", map[string]string{
			"name":  fmt.Sprintf("Load Tester %02d", i),
			"email": fmt.Sprintf("load%02d@conctest.local", i),
		})
		switch {
		case err != nil:
			regs.add("TRANSPORT", "")
		case status == http.StatusCreated:
			var r struct {
				Registration struct {
					ID string `json:"id"`
				} `json:"registration"`
			}
			_ = json.Unmarshal(env.Data, &r)
			regs.add("CREATED", r.Registration.ID)
		default:
			regs.add(env.Code, "")
		}
	})
	fmt.Printf("Registrations: %d attempts in %v -> %v\n", *registrations, took, regs.codes)

	ok := regs.codes["CREATED"] == min(*capacity, *registrations)
	report("no overselling", ok)
	if len(regs.ids) == 0 {
		os.Exit(1)
	}

	ticketID := regs.ids[0]
	redeems := &tally{codes: map[string]int{}}
	took = fanOut(*redemptions, func(int) {
		status, env, err := c.do(http.MethodPost, "/tickets/"+ticketID+"/redeem", nil)
		switch {
		case err != nil:
			redeems.add("TRANSPORT", "")
		case status == http.StatusOK:
			redeems.add("REDEEMED", "")
		default:
			redeems.add(env.Code, "")
		}
	})
	fmt.Printf("Redemptions:   %d attempts in %v -> %v\n", *redemptions, took, redeems.codes)
	single := redeems.codes["REDEEMED"] == 1 && redeems.codes["ALREADY_REDEEMED"] == *redemptions-1
	report("single use", single)

	if !ok || !single {
		os.Exit(1)
	}
}

func report(name string, pass bool) {
	if pass {
		fmt.Printf("  PASS  %s\n", name)
		return
	}
	fmt.Printf("  FAIL  %s\n", name)
}
