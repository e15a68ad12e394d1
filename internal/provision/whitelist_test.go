package provision

import (
	"reflect"
	"testing"
)

func TestParseWhitelistJSON(t *testing.T) {
	body := []byte(`{
		"code": 0,
		"data": {
			"addressList": [
				{"address": "0xAAA111222333444555666777888999000AAABBB1", "tag": ""},
				{"address": "0xBBB111222333444555666777888999000AAABBB2"},
				{"address": ""}
			]
		}
	}`)

	got := ParseWhitelistJSON(body)
	want := []string{
		"0xAAA111222333444555666777888999000AAABBB1",
		"0xBBB111222333444555666777888999000AAABBB2",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseWhitelistJSONMalformed(t *testing.T) {
	if got := ParseWhitelistJSON([]byte("not json")); got != nil {
		t.Errorf("got %v, want nil for malformed payload", got)
	}
}

func TestParseWhitelistHTML(t *testing.T) {
	html := `<html><body>
		<table>
			<tr><td>My wallet</td><td>0xAAA111222333444555666777888999000AAABBB1</td></tr>
			<tr><td>Other</td><td>0xBBB111222333444555666777888999000AAABBB2</td></tr>
			<tr><td>Dup</td><td>0xaaa111222333444555666777888999000aaabbb1</td></tr>
			<tr><td>Not an address</td><td>hello world</td></tr>
		</table>
		<div class="address-cell">1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa</div>
	</body></html>`

	got, err := ParseWhitelistHTML(html)
	if err != nil {
		t.Fatalf("ParseWhitelistHTML failed: %v", err)
	}
	want := []string{
		"0xAAA111222333444555666777888999000AAABBB1",
		"0xBBB111222333444555666777888999000AAABBB2",
		"1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
