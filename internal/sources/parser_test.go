package sources

import "testing"

func TestParseKuaidailiScript(t *testing.T) {
	body := `<html><script>
const fpsList = [{"ip":"1.2.3.4","port":"8080","last_check":"x"},{"ip":" 5.6.7.8 ","port":3128},{"ip":"bad","port":"1"}];
</script></html>`

	records, err := parseKuaidaili(body, "kuaidaili")
	if err != nil {
		t.Fatalf("parseKuaidaili returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Address() != "1.2.3.4:8080" || records[1].Address() != "5.6.7.8:3128" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if records[0].Source != "kuaidaili" {
		t.Fatalf("source = %q, want kuaidaili", records[0].Source)
	}
}

func TestParseKuaidailiTableFallback(t *testing.T) {
	body := `<table>
<tr><th>IP</th><th>PORT</th></tr>
<tr><td data-title="IP">10.1.1.1</td><td data-title="PORT">80</td></tr>
<tr><td data-title="IP">10.1.1.2</td><td data-title="PORT"> 8888 </td></tr>
</table>`

	records, err := parseKuaidaili(body, "kuaidaili")
	if err != nil {
		t.Fatalf("parseKuaidaili returned error: %v", err)
	}
	if len(records) != 2 || records[1].Address() != "10.1.1.2:8888" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestParseIP3366(t *testing.T) {
	body := `<table><thead><tr><th>IP</th><th>PORT</th></tr></thead><tbody>
<tr><td>192.168.0.1</td><td>8080</td><td>HTTP</td></tr>
<tr><td>192.168.0.2</td><td>9999</td><td>HTTPS</td></tr>
<tr><td>only one cell</td></tr>
</tbody></table>`

	records, err := parseIP3366(body, "ip3366")
	if err != nil {
		t.Fatalf("parseIP3366 returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Address() != "192.168.0.1:8080" {
		t.Fatalf("first record = %s", records[0].Address())
	}
}

func TestParserFor(t *testing.T) {
	for _, kind := range []string{"kuaidaili", "IP3366", "text", ""} {
		if _, err := ParserFor(kind); err != nil {
			t.Fatalf("ParserFor(%q) returned error: %v", kind, err)
		}
	}
	if _, err := ParserFor("unknown"); err == nil {
		t.Fatal("ParserFor(unknown) returned nil error")
	}
}
